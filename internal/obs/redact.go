package obs

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// redactedKeys is the configurable set of secret-like field names the
// logger scrubs before encoding, implemented as a zapcore.Core wrapper
// so redaction happens before any encoder sees the value.
var (
	redactMu     sync.RWMutex
	redactedKeys = map[string]struct{}{
		"password": {}, "apikey": {}, "api_key": {}, "token": {},
		"secret": {}, "authorization": {}, "anthropic_api_key": {},
	}
)

const redactedPlaceholder = "***REDACTED***"

// SetRedactedKeys replaces the configurable set of field names to scrub.
// Keys are matched case-sensitively on the exact zap field key.
func SetRedactedKeys(keys []string) {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	redactMu.Lock()
	redactedKeys = m
	redactMu.Unlock()
}

func isRedactedKey(k string) bool {
	redactMu.RLock()
	defer redactMu.RUnlock()
	_, ok := redactedKeys[k]
	return ok
}

// redactingCore wraps a zapcore.Core and scrubs fields whose key matches
// the configurable redaction set before they reach the underlying
// encoder.
type redactingCore struct {
	zapcore.Core
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redact(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, redact(fields))
}

func redact(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if isRedactedKey(f.Key) {
			f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redactedPlaceholder}
		}
		out[i] = f
	}
	return out
}
