package obs

import (
	"time"

	"go.uber.org/zap"
)

// Time wraps fn, logging its begin and successful end with duration at
// debug level (a failure at warn level) and observing the duration into the given kind's
// processing-duration histogram.
func Time(log *zap.Logger, kind, operation string, fn func() error) error {
	log.Debug("operation.started", String("operation", operation), String("kind", kind))
	start := time.Now()
	err := fn()
	dur := time.Since(start)
	JobProcessingDuration.WithLabelValues(kind).Observe(dur.Seconds())
	fields := []zap.Field{String("operation", operation), String("kind", kind), zap.Duration("performance.duration", dur)}
	if err != nil {
		log.Warn("operation.failed", append(fields, Err(err))...)
	} else {
		log.Debug("operation.completed", fields...)
	}
	return err
}
