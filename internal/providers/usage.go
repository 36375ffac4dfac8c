package providers

import "sync"

// UnitType names the billing unit a client's usage is measured in.
type UnitType string

const (
	UnitTokens  UnitType = "tokens"
	UnitChars   UnitType = "characters"
	UnitCredits UnitType = "credits"
	UnitSeconds UnitType = "seconds"
)

// Usage is the cumulative usage/cost record for one client instance,
// after every request.
type Usage struct {
	Provider        string   `json:"provider"`
	UnitType        UnitType `json:"unit_type"`
	UnitsUsed       float64  `json:"units_used"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	RequestCount    int      `json:"request_count"`
	LatencyMS       int64    `json:"latency_ms"`
}

// Ledger accumulates Usage across the lifetime of one client instance.
type Ledger struct {
	mu    sync.Mutex
	usage Usage
}

func NewLedger(provider string, unit UnitType) *Ledger {
	return &Ledger{usage: Usage{Provider: provider, UnitType: unit}}
}

// AddUnits records units consumed by one call and their cost.
func (l *Ledger) AddUnits(units float64, costPerUnit float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage.UnitsUsed += units
	l.usage.EstimatedCostUSD += units * costPerUnit
}

// RecordRequest increments the request counter and adds observed latency.
func (l *Ledger) RecordRequest(latencyMS int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage.RequestCount++
	l.usage.LatencyMS += latencyMS
}

func (l *Ledger) Snapshot() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage
}

// Result wraps a provider call's payload with the usage delta it caused,
// mirroring the Python original's MediaResult.
type Result struct {
	Data          []byte
	Text          string
	ContentType   string
	DurationMS    int64
	FileSizeBytes int64
	ProviderJobID string
	Metadata      map[string]any
	Usage         Usage
}

func (r Result) DurationSeconds() float64 {
	return float64(r.DurationMS) / 1000.0
}
