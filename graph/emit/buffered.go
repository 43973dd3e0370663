package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by thread.
//
// Used by tests to assert on execution order and by the history endpoint
// in development mode. Memory grows without bound; call Clear when a
// thread's events are no longer needed.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // threadID -> events
}

// HistoryFilter narrows History results. Zero fields do not filter.
type HistoryFilter struct {
	NodeID  string
	Msg     string
	MinStep int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit records event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

// History returns a copy of the thread's events that match filter, in
// emission order.
func (b *BufferedEmitter) History(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[threadID] {
		if filter.NodeID != "" && event.NodeID != filter.NodeID {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		if event.Step < filter.MinStep {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Nodes returns the node ids of the thread's node_end events in order, a
// compact trace of which nodes completed.
func (b *BufferedEmitter) Nodes(threadID string) []string {
	var nodes []string
	for _, e := range b.History(threadID, HistoryFilter{Msg: MsgNodeEnd}) {
		nodes = append(nodes, e.NodeID)
	}
	return nodes
}

// Clear drops the thread's events, or all events when threadID is empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}
