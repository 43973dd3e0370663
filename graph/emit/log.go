package emit

import (
	"context"
	"log/slog"
)

// LogEmitter writes events as structured log records.
//
// Errors are logged at Error level, interrupts at Info, everything else at
// Debug so a production logger at Info shows run boundaries and suspensions
// without per-node noise.
//
// Example output with a JSON handler:
//
//	{"level":"INFO","msg":"interrupt","thread_id":"t-1","step":4,"node_id":"node_wait_for_approve"}
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs event.
func (l *LogEmitter) Emit(event Event) {
	level := slog.LevelDebug
	switch event.Msg {
	case MsgNodeError:
		level = slog.LevelError
	case MsgInterrupt, MsgResume, MsgRunStart, MsgRunEnd:
		level = slog.LevelInfo
	}

	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs, slog.String("thread_id", event.ThreadID))
	if event.Step > 0 {
		attrs = append(attrs, slog.Int("step", event.Step))
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}
