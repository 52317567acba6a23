package authcore

import (
	"io"

	internalaudit "github.com/eis-1/electrical-supplier-website-sub001/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is a security event emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events. Implementations must be safe for
// concurrent use and must not block for long; events are delivered from a
// single background goroutine.
type AuditSink = internalaudit.Sink

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	LoggerSink     = internalaudit.LoggerSink
	MultiSink      = internalaudit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLoggerSink routes audit events to a zap logger.
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return internalaudit.NewLoggerSink(logger)
}
