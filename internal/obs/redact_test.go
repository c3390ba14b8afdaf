package obs

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestRedactScrubsDefaultSensitiveKeys(t *testing.T) {
	SetRedactedKeys([]string{"password", "apikey", "api_key", "token", "secret", "authorization", "anthropic_api_key"})
	fields := []zapcore.Field{
		{Key: "password", Type: zapcore.StringType, String: "hunter2"},
		{Key: "anthropic_api_key", Type: zapcore.StringType, String: "sk-ant-abc"},
		{Key: "reviewId", Type: zapcore.StringType, String: "r1"},
	}
	out := redact(fields)
	if out[0].String != redactedPlaceholder {
		t.Fatalf("expected password redacted, got %q", out[0].String)
	}
	if out[1].String != redactedPlaceholder {
		t.Fatalf("expected anthropic_api_key redacted, got %q", out[1].String)
	}
	if out[2].String != "r1" {
		t.Fatalf("expected an unrelated field left untouched, got %q", out[2].String)
	}
}

func TestSetRedactedKeysReplacesTheSet(t *testing.T) {
	SetRedactedKeys([]string{"customSecretField"})
	defer SetRedactedKeys([]string{"password", "apikey", "api_key", "token", "secret", "authorization", "anthropic_api_key"})

	fields := []zapcore.Field{
		{Key: "password", Type: zapcore.StringType, String: "hunter2"},
		{Key: "customSecretField", Type: zapcore.StringType, String: "shh"},
	}
	out := redact(fields)
	if out[0].String != "hunter2" {
		t.Fatalf("expected password to no longer be redacted after replacing the key set, got %q", out[0].String)
	}
	if out[1].String != redactedPlaceholder {
		t.Fatalf("expected customSecretField redacted, got %q", out[1].String)
	}
}

func TestRedactIsCaseSensitive(t *testing.T) {
	SetRedactedKeys([]string{"password"})
	defer SetRedactedKeys([]string{"password", "apikey", "api_key", "token", "secret", "authorization", "anthropic_api_key"})

	fields := []zapcore.Field{{Key: "Password", Type: zapcore.StringType, String: "hunter2"}}
	out := redact(fields)
	if out[0].String != "hunter2" {
		t.Fatalf("expected case-sensitive matching to leave a differently-cased key untouched, got %q", out[0].String)
	}
}
