package domain

// ProviderKind distinguishes token-billed LLM providers from character-billed
// translation providers.
type ProviderKind string

// Supported provider kinds
const (
	ProviderKindLLM         ProviderKind = "llm"
	ProviderKindTranslation ProviderKind = "translation"
)

// charsPerToken approximates how many characters one token covers. It lets
// character-billed and token-billed providers be ranked on the same scale.
const charsPerToken = 4

// ProviderProfile is the pricing and cap description of a provider. Only the
// caps change after construction, when configuration is reloaded.
type ProviderProfile struct {
	Name       string       `json:"name"`
	Kind       ProviderKind `json:"kind"`
	InputRate  float64      `json:"input_rate"`
	OutputRate float64      `json:"output_rate"`
	CharRate   float64      `json:"char_rate"`

	// Zero means unlimited for every cap below.
	DailyCap          float64 `json:"daily_cap"`
	MonthlyCap        float64 `json:"monthly_cap"`
	DailyRequestLimit int64   `json:"daily_request_limit"`
	DailyTokenLimit   int64   `json:"daily_token_limit"`
}

// UnitCost is the estimated price of one token of traffic.
func (p ProviderProfile) UnitCost() float64 {
	if p.CharRate > 0 {
		return p.CharRate * charsPerToken
	}
	return p.InputRate + p.OutputRate
}

// EstimateCost prices a request before it is sent. Character-billed
// providers are priced on chars, everything else on input tokens.
func (p ProviderProfile) EstimateCost(tokens, chars int) float64 {
	if p.CharRate > 0 {
		return float64(chars) * p.CharRate
	}
	return float64(tokens) * p.InputRate
}

// ActualCost prices a completed call from reported usage.
func (p ProviderProfile) ActualCost(inputTokens, outputTokens, chars int) float64 {
	if p.CharRate > 0 {
		return float64(chars) * p.CharRate
	}
	return float64(inputTokens)*p.InputRate + float64(outputTokens)*p.OutputRate
}

// WithCaps returns a copy of p carrying the caps from next.
func (p ProviderProfile) WithCaps(next ProviderProfile) ProviderProfile {
	p.DailyCap = next.DailyCap
	p.MonthlyCap = next.MonthlyCap
	p.DailyRequestLimit = next.DailyRequestLimit
	p.DailyTokenLimit = next.DailyTokenLimit
	return p
}
