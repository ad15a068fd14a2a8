package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  "debug",
		Pretty: false,
		Output: &buf,
	})

	logger.Trace().Msg("trace message")
	logger.Debug().Msg("debug message")

	output := buf.String()
	if strings.Contains(output, "trace message") {
		t.Error("Expected trace message to NOT be logged at debug level")
	}
	if !strings.Contains(output, "debug message") {
		t.Error("Expected debug message to be logged at debug level")
	}
}

func TestDiagnosticsBufferUntilFlush(t *testing.T) {
	var out bytes.Buffer
	d := NewDiagnostics(Config{Level: "info", Output: &out}, 0, func(c zerolog.Context) zerolog.Context {
		return c.Str("unit", "0x0")
	})

	d.Warn(KindTranslationMiss).Str("die", "0x2a").Msg("empty location list")
	d.Verbose(KindUnexpectedEncoding).Msg("hidden at verbosity 0")

	if out.Len() != 0 {
		t.Fatalf("diagnostics leaked before Flush: %q", out.String())
	}
	if d.Count() != 1 {
		t.Errorf("Count() = %d, want 1", d.Count())
	}
	if err := d.Flush(); err != nil {
		t.Fatal(err)
	}

	got := out.String()
	for _, want := range []string{`"kind":"translation-miss"`, `"unit":"0x0"`, `"die":"0x2a"`} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %s", got, want)
		}
	}
	if strings.Contains(got, "hidden") {
		t.Error("verbose diagnostic emitted at verbosity 0")
	}
}

func TestDiagnosticsVerbose(t *testing.T) {
	var out bytes.Buffer
	d := NewDiagnostics(Config{Level: "info", Output: &out}, 1, nil)
	d.Verbose(KindUnexpectedEncoding).Msg("shown")
	if err := d.Flush(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "shown") {
		t.Error("verbose diagnostic missing at verbosity 1")
	}
}
