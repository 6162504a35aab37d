// Package journal persists the records produced by the paper-trading core:
// individual fills, signal execution outcomes and account equity snapshots.
package journal

import "time"

// FillRecord is one fill applied by the exchange.
type FillRecord struct {
	OrderID    string
	Symbol     string
	Side       string
	Quantity   float64
	Price      float64
	Commission float64
	Time       time.Time
}

// ExecutionRecord is the outcome of one executed signal.
type ExecutionRecord struct {
	OrderID  string
	Symbol   string
	Side     string
	Strategy string
	Quantity float64
	Success  bool
	Reason   string
	Time     time.Time
}

// EquitySnapshot is the account state after a fill or close.
type EquitySnapshot struct {
	Time   time.Time
	Cash   float64
	Equity float64
}

type Journal interface {
	RecordFill(FillRecord) error
	RecordExecution(ExecutionRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Discard is a Journal that drops every record.
type Discard struct{}

func (Discard) RecordFill(FillRecord) error           { return nil }
func (Discard) RecordExecution(ExecutionRecord) error { return nil }
func (Discard) RecordEquity(EquitySnapshot) error     { return nil }
func (Discard) Close() error                          { return nil }
