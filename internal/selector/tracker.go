package selector

import (
	"slices"
	"sync"
	"time"
)

// Tracker defaults
const (
	DefaultWindow     = 20
	DefaultMinSamples = 15
	DefaultAlpha      = 0.3

	successWeight = 0.6
	speedWeight   = 0.4
)

// Stats is a snapshot of one provider's performance. Score and Weight are
// those computed by the most recent Weights call that included the provider.
type Stats struct {
	RecentLatencies []time.Duration `json:"recent_latencies"`
	Successes       int             `json:"successes"`
	Failures        int             `json:"failures"`
	EMALatency      time.Duration   `json:"ema_latency"`
	SuccessRate     float64         `json:"success_rate"`
	Score           float64         `json:"score"`
	Weight          float64         `json:"weight"`
}

// Samples is the number of recorded attempts.
func (s Stats) Samples() int {
	return s.Successes + s.Failures
}

type providerStats struct {
	latencies []time.Duration
	successes int
	failures  int
	ema       float64
	hasEMA    bool
	score     float64
	weight    float64
}

func (p *providerStats) successRate() float64 {
	total := p.successes + p.failures
	if total == 0 {
		return 0
	}
	return float64(p.successes) / float64(total)
}

// Tracker records attempt outcomes per provider. It is safe for concurrent
// use.
type Tracker struct {
	window     int
	minSamples int
	alpha      float64

	mu    sync.Mutex
	stats map[string]*providerStats
}

// NewTracker creates a Tracker with the default window, sample threshold
// and smoothing factor.
func NewTracker() *Tracker {
	return &Tracker{
		window:     DefaultWindow,
		minSamples: DefaultMinSamples,
		alpha:      DefaultAlpha,
		stats:      make(map[string]*providerStats),
	}
}

// Record adds one attempt. The EMA tracks successful latencies only; it is
// seeded by the first success.
func (t *Tracker) Record(provider string, latency time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(provider)
	s.latencies = append(s.latencies, latency)
	if over := len(s.latencies) - t.window; over > 0 {
		s.latencies = slices.Delete(s.latencies, 0, over)
	}

	if !success {
		s.failures++
		return
	}
	s.successes++
	if !s.hasEMA {
		s.ema = float64(latency)
		s.hasEMA = true
		return
	}
	s.ema = t.alpha*float64(latency) + (1-t.alpha)*s.ema
}

// Stats returns a snapshot for provider. Unknown providers report zeros.
func (t *Tracker) Stats(provider string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[provider]
	if !ok {
		return Stats{}
	}
	return Stats{
		RecentLatencies: slices.Clone(s.latencies),
		Successes:       s.successes,
		Failures:        s.failures,
		EMALatency:      time.Duration(s.ema),
		SuccessRate:     s.successRate(),
		Score:           s.score,
		Weight:          s.weight,
	}
}

// Weights returns the selection weights of a and b, which sum to 1.
// warm is false, and both weights 0.5, while either candidate has fewer
// than the minimum number of samples.
func (t *Tracker) Weights(a, b string) (wa, wb float64, warm bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sa, sb := t.get(a), t.get(b)
	if sa.successes+sa.failures < t.minSamples || sb.successes+sb.failures < t.minSamples {
		return 0.5, 0.5, false
	}

	speedA, speedB := speedScores(sa, sb)
	sa.score = sa.successRate()*successWeight + speedA*speedWeight
	sb.score = sb.successRate()*successWeight + speedB*speedWeight

	total := sa.score + sb.score
	if total == 0 {
		sa.weight, sb.weight = 0.5, 0.5
	} else {
		sa.weight, sb.weight = sa.score/total, sb.score/total
	}
	return sa.weight, sb.weight, true
}

// speedScores normalizes and inverts the candidates' EMA latencies: the
// faster scores 1 and the slower 0, equal EMAs score 0.5 each. A candidate
// that has never succeeded has no EMA and scores 0.
func speedScores(a, b *providerStats) (float64, float64) {
	switch {
	case a.hasEMA && b.hasEMA:
		fastest, slowest := min(a.ema, b.ema), max(a.ema, b.ema)
		if slowest == fastest {
			return 0.5, 0.5
		}
		return (slowest - a.ema) / (slowest - fastest), (slowest - b.ema) / (slowest - fastest)
	case a.hasEMA:
		return 1, 0
	case b.hasEMA:
		return 0, 1
	}
	return 0.5, 0.5
}

func (t *Tracker) get(provider string) *providerStats {
	s, ok := t.stats[provider]
	if !ok {
		s = &providerStats{}
		t.stats[provider] = s
	}
	return s
}
