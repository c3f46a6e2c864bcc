package coordinator

import (
	"time"

	"github.com/poiesic/docqa/bus"
	"github.com/poiesic/docqa/core"
)

// Outcome names the path a turn took.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeStoreReady
	OutcomeDocumentAnswer
	OutcomeGeneralAnswer
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStoreReady:
		return "store_ready"
	case OutcomeDocumentAnswer:
		return "document_answer"
	case OutcomeGeneralAnswer:
		return "general_answer"
	default:
		return "failed"
	}
}

// Result is the structured outcome of one turn. Failed turns carry the
// error, the correlation id and the messages exchanged before the failure.
type Result struct {
	Outcome       Outcome
	CorrelationID string

	// Embed-only turns.
	StoreReady bool
	StorePath  string
	Message    string

	// Answer turns.
	Answer   string
	Context  string
	Passages []*core.Passage

	// Error is the human-readable failure and always names the correlation id.
	Error string
	Err   error

	Trace   []bus.Message
	Elapsed time.Duration
}

// Failed reports whether the turn ended in an error.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// TraceLines renders the turn's messages as "sender → receiver: KIND".
func (r *Result) TraceLines() []string {
	lines := make([]string, len(r.Trace))
	for i, m := range r.Trace {
		lines[i] = m.String()
	}
	return lines
}
