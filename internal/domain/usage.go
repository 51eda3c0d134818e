package domain

import "time"

// Period key layouts for usage ledger entries.
const (
	dailyPeriodLayout   = "2006-01-02"
	monthlyPeriodLayout = "2006-01"
)

// DailyPeriod returns the ledger period key for the UTC day containing t.
func DailyPeriod(t time.Time) string {
	return "daily:" + t.UTC().Format(dailyPeriodLayout)
}

// MonthlyPeriod returns the ledger period key for the UTC month containing t.
func MonthlyPeriod(t time.Time) string {
	return "monthly:" + t.UTC().Format(monthlyPeriodLayout)
}

// UsageLedgerEntry holds cumulative spend for one provider over one period.
// Entries for past periods are kept; a new period simply starts a new key.
type UsageLedgerEntry struct {
	Provider  string    `json:"provider"`
	Period    string    `json:"period"`
	Cost      float64   `json:"cost"`
	Tokens    int64     `json:"tokens"`
	Requests  int64     `json:"requests"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageDelta is one increment applied to a ledger entry.
type UsageDelta struct {
	Cost     float64
	Tokens   int64
	Requests int64
}
