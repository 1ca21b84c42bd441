package engine

// EventKind classifies progress-stream events.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
	EventError    EventKind = "error"
)

// GraphDelta counts the nodes and edges written by one commit.
type GraphDelta struct {
	Nodes int
	Edges int
}

// Event is one entry on a file's append-only progress stream. Events are
// emitted in commit order; Line and Percent are monotonically non-decreasing
// within a stream.
type Event struct {
	RunID   string
	File    string
	Kind    EventKind
	Line    int
	Percent float64
	Delta   GraphDelta
	Err     string
}

// Sink receives progress events for a live observer.
type Sink interface {
	Emit(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ChanSink forwards events to a channel. The channel must be drained or
// buffered generously; Emit blocks otherwise.
type ChanSink chan Event

func (c ChanSink) Emit(ev Event) { c <- ev }
