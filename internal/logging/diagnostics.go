package logging

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// Diagnostic kinds.
const (
	KindTranslationMiss      = "translation-miss"
	KindUnexpectedEncoding   = "unexpected-encoding"
	KindStructuralCorruption = "structural-corruption"
	KindUnsupportedUnit      = "unsupported-unit"
)

var flushMu sync.Mutex

// Diagnostics buffers the events of one unit so that units processed in
// parallel never interleave their lines. Flush writes the buffer to the
// configured output in one piece.
type Diagnostics struct {
	cfg       Config
	verbosity int
	buf       bytes.Buffer
	logger    zerolog.Logger
	count     int
}

// NewDiagnostics returns a buffer whose events carry fields from ctx.
func NewDiagnostics(cfg Config, verbosity int, ctx func(zerolog.Context) zerolog.Context) *Diagnostics {
	d := &Diagnostics{cfg: cfg, verbosity: verbosity}
	l := newLogger(cfg, &d.buf).With().Timestamp()
	if ctx != nil {
		l = ctx(l)
	}
	d.logger = l.Logger()
	return d
}

// Warn starts a warning of the given kind.
func (d *Diagnostics) Warn(kind string) *zerolog.Event {
	d.count++
	return d.logger.Warn().Str("kind", kind)
}

// Verbose starts a warning that is only emitted at verbosity >= 1. The
// returned event may be nil; zerolog treats a nil event as disabled.
func (d *Diagnostics) Verbose(kind string) *zerolog.Event {
	if d.verbosity < 1 {
		return nil
	}
	return d.Warn(kind)
}

// Debug starts a debug event.
func (d *Diagnostics) Debug() *zerolog.Event {
	return d.logger.Debug()
}

// Count returns the number of warnings recorded.
func (d *Diagnostics) Count() int { return d.count }

// Flush writes the buffered events and resets the buffer.
func (d *Diagnostics) Flush() error {
	if d.buf.Len() == 0 {
		return nil
	}
	flushMu.Lock()
	defer flushMu.Unlock()
	_, err := d.cfg.output().Write(d.buf.Bytes())
	d.buf.Reset()
	return err
}
