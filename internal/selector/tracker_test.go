package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerEMA(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Record("a", 100*time.Millisecond, true)
	assert.Equal(t, 100*time.Millisecond, tr.Stats("a").EMALatency, "first success seeds the EMA")

	tr.Record("a", 200*time.Millisecond, true)
	// 0.3*200 + 0.7*100
	assert.InDelta(t, float64(130*time.Millisecond), float64(tr.Stats("a").EMALatency), 1)

	tr.Record("a", 5*time.Second, false)
	stats := tr.Stats("a")
	assert.InDelta(t, float64(130*time.Millisecond), float64(stats.EMALatency), 1, "failures do not move the EMA")
	assert.Equal(t, 2, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
}

func TestTrackerWindow(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	for i := range 25 {
		tr.Record("a", time.Duration(i)*time.Millisecond, true)
	}
	stats := tr.Stats("a")
	assert.Len(t, stats.RecentLatencies, DefaultWindow)
	assert.Equal(t, 5*time.Millisecond, stats.RecentLatencies[0])
	assert.Equal(t, 25, stats.Samples())
}

func TestTrackerWeightsColdStart(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	for range DefaultMinSamples {
		tr.Record("a", time.Millisecond, true)
	}
	for range DefaultMinSamples - 1 {
		tr.Record("b", time.Millisecond, false)
	}

	wa, wb, warm := tr.Weights("a", "b")
	assert.False(t, warm)
	assert.Equal(t, 0.5, wa)
	assert.Equal(t, 0.5, wb)
}

func TestTrackerWeightsWarm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		record func(tr *Tracker)
		wantA  float64
	}{
		{
			name: "equal performance",
			record: func(tr *Tracker) {
				for range 15 {
					tr.Record("a", 100*time.Millisecond, true)
					tr.Record("b", 100*time.Millisecond, true)
				}
			},
			wantA: 0.5,
		},
		{
			name: "same success rate, a faster",
			record: func(tr *Tracker) {
				for range 15 {
					tr.Record("a", 100*time.Millisecond, true)
					tr.Record("b", 300*time.Millisecond, true)
				}
			},
			// a: 0.6 + 0.4 = 1.0, b: 0.6 + 0 = 0.6
			wantA: 1.0 / 1.6,
		},
		{
			name: "both always fail",
			record: func(tr *Tracker) {
				for range 15 {
					tr.Record("a", time.Second, false)
					tr.Record("b", time.Second, false)
				}
			},
			wantA: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := NewTracker()
			tt.record(tr)

			wa, wb, warm := tr.Weights("a", "b")
			assert.True(t, warm)
			assert.InDelta(t, tt.wantA, wa, 1e-9)
			assert.InDelta(t, 1.0, wa+wb, 1e-9)
			assert.InDelta(t, wa, tr.Stats("a").Weight, 1e-9)
		})
	}
}

func TestTrackerWeightConvergence(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	for range 20 {
		tr.Record("a", 100*time.Millisecond, true)
		tr.Record("b", 50*time.Millisecond, false)
	}

	wa, wb, warm := tr.Weights("a", "b")
	assert.True(t, warm)
	assert.InDelta(t, 1.0, wa, 1e-9)
	assert.InDelta(t, 0.0, wb, 1e-9)
	assert.InDelta(t, 1.0, tr.Stats("a").Score, 1e-9)
	assert.InDelta(t, 0.0, tr.Stats("b").Score, 1e-9)
}
