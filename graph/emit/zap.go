package emit

import (
	"context"

	"go.uber.org/zap"
)

// ZapEmitter implements Emitter by writing structured log entries through
// a zap.Logger, one entry per event, at Info level (Error level when the
// event carries an "error" meta field).
//
// Unlike LogEmitter, which owns its own text/JSON formatting, ZapEmitter
// defers field formatting to zap's encoders so output integrates with
// whatever sink (console, file, aggregator) the application's logger is
// already configured for.
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter creates a ZapEmitter backed by logger. A nil logger falls
// back to zap.NewNop(), discarding events.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEmitter{logger: logger}
}

func (z *ZapEmitter) Emit(event Event) {
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.Int("step", event.Step),
		zap.String("node_id", event.NodeID),
	}
	for k, v := range event.Meta {
		fields = append(fields, zap.Any(k, v))
	}

	if errMsg, ok := event.Meta["error"].(string); ok {
		z.logger.Error(event.Msg, append(fields, zap.String("error", errMsg))...)
		return
	}
	z.logger.Info(event.Msg, fields...)
}

func (z *ZapEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		z.Emit(e)
	}
	return nil
}

func (z *ZapEmitter) Flush(_ context.Context) error {
	return z.logger.Sync()
}
