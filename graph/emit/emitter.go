// Package emit provides event emission for graph runs: structured logging,
// tracing and in-memory history.
package emit

// Emitter receives engine events. Implementations must be safe for
// concurrent use and must not block the engine for long.
type Emitter interface {
	Emit(event Event)
}

// Multi fans an event out to several emitters in order.
type Multi []Emitter

// Emit forwards event to every emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
