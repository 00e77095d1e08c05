package deploy

import (
	"sync"
	"time"
)

// Confidence rendering used by the dashboard: filled blocks out of five.
const (
	ConfidenceHigh   = "■■■■■"
	ConfidenceMedium = "■■■□□"
	ConfidenceLow    = "■□□□□"
)

// Ledger is the append-only record of orchestrator decisions. Entries are
// ordered by insertion and immutable once written.
type Ledger struct {
	mu      sync.Mutex
	entries []Decision
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Record(decision, confidence string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Decision{
		Decision:   decision,
		Timestamp:  time.Now().UTC(),
		Confidence: confidence,
	})
}

// Entries returns a copy of the ledger in insertion order.
func (l *Ledger) Entries() []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Decision, len(l.entries))
	copy(out, l.entries)
	return out
}
