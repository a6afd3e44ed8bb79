package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNoopLogger_DoesNotPanic(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Debug("x", "k", 1)
	l.Info("x")
	l.Warn("x", "k", "v")
	l.Error("x", "k", nil)
}

func TestZerologAdapter_EncodesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(zerolog.New(&buf))

	l.Warn("evicted entry", "reason", "ttl", "key", "foo")

	out := buf.String()
	if !strings.Contains(out, `"reason":"ttl"`) {
		t.Fatalf("expected reason field in output, got %q", out)
	}
	if !strings.Contains(out, `"message":"evicted entry"`) {
		t.Fatalf("expected message field in output, got %q", out)
	}
}

func TestZerologAdapter_IgnoresOddTrailingKey(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(zerolog.New(&buf))

	l.Info("partial", "onlykey")

	if !strings.Contains(buf.String(), `"message":"partial"`) {
		t.Fatalf("expected message to still be written, got %q", buf.String())
	}
}
