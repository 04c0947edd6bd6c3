// Package metrics tracks the session's view of backend-reported usage totals.
package metrics

// Snapshot is the metrics block the backend attaches to each response.
// The backend keeps the running totals; the client never accumulates.
// A missing field decodes to zero, which is exactly the contract.
type Snapshot struct {
	AvgResponseTime float64 `json:"avg_response_time"`
	TokensUsed      int     `json:"tokens_used"`
	IterationCount  int     `json:"iteration_count"`
}

// Metrics is the session's current view: the last snapshot received.
type Metrics struct {
	AvgResponseTime float64
	TokensUsed      int
	IterationCount  int
}

// Apply replaces every field with the snapshot's value, last-write-wins.
// A nil snapshot (the backend may omit the block, e.g. on errors) is a no-op.
func (m *Metrics) Apply(s *Snapshot) {
	if s == nil {
		return
	}
	m.AvgResponseTime = s.AvgResponseTime
	m.TokensUsed = s.TokensUsed
	m.IterationCount = s.IterationCount
}

// Reset zeroes all fields.
func (m *Metrics) Reset() {
	*m = Metrics{}
}
