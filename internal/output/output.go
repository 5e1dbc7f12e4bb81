// Package output renders command results and errors as JSON or YAML
// envelopes, with an optional jq filter applied to the data payload.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
)

// Format specifies the output format.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatQuiet // data payload only, no envelope
)

// Options controls output behavior.
type Options struct {
	Format Format
	Filter string // jq expression applied to the data payload
	Writer io.Writer
	ErrOut io.Writer
}

// Envelope is the success envelope.
type Envelope struct {
	OK      bool           `json:"ok" yaml:"ok"`
	Data    any            `json:"data,omitempty" yaml:"data,omitempty"`
	Summary string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Meta    map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// ErrorEnvelope is the error envelope.
type ErrorEnvelope struct {
	OK     bool   `json:"ok" yaml:"ok"`
	Error  string `json:"error" yaml:"error"`
	Code   string `json:"code" yaml:"code"`
	Status int    `json:"status,omitempty" yaml:"status,omitempty"`
	Hint   string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// Writer handles all output formatting.
type Writer struct {
	opts   Options
	filter *filter
}

// New creates an output writer. An invalid jq expression is reported
// up front rather than on first use.
func New(opts Options) (*Writer, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.ErrOut == nil {
		opts.ErrOut = os.Stderr
	}
	w := &Writer{opts: opts}
	if opts.Filter != "" {
		f, err := compileFilter(opts.Filter)
		if err != nil {
			return nil, err
		}
		w.filter = f
	}
	return w, nil
}

// ResponseOption modifies an Envelope.
type ResponseOption func(*Envelope)

// WithSummary adds a one-line summary to the envelope.
func WithSummary(format string, args ...any) ResponseOption {
	return func(e *Envelope) { e.Summary = fmt.Sprintf(format, args...) }
}

// WithMeta adds metadata to the envelope.
func WithMeta(key string, value any) ResponseOption {
	return func(e *Envelope) {
		if e.Meta == nil {
			e.Meta = make(map[string]any)
		}
		e.Meta[key] = value
	}
}

// OK outputs a success envelope around data.
func (w *Writer) OK(data any, opts ...ResponseOption) error {
	normalized := normalize(data)
	if w.filter != nil {
		filtered, err := w.filter.apply(normalized)
		if err != nil {
			return err
		}
		normalized = filtered
	}

	if w.opts.Format == FormatQuiet {
		return w.render(w.opts.Writer, normalized)
	}

	env := &Envelope{OK: true, Data: normalized}
	for _, opt := range opts {
		opt(env)
	}
	return w.render(w.opts.Writer, env)
}

// Err outputs an error envelope to the error stream and returns the
// exit code the process should terminate with.
func (w *Writer) Err(err error) int {
	env := envelopeFor(err)
	if renderErr := w.render(w.opts.ErrOut, env); renderErr != nil {
		fmt.Fprintln(w.opts.ErrOut, env.Error)
	}
	return qberrors.ExitCodeFor(env.Code)
}

func envelopeFor(err error) *ErrorEnvelope {
	var qe *qberrors.Error
	if errors.As(err, &qe) {
		return &ErrorEnvelope{
			Error:  qe.Message,
			Code:   qe.Code,
			Status: qe.HTTPStatus,
			Hint:   hintFor(qe),
		}
	}
	return &ErrorEnvelope{
		Error: err.Error(),
		Code:  qberrors.CodeInternal,
	}
}

func hintFor(e *qberrors.Error) string {
	switch e.Code {
	case qberrors.CodeAuth:
		return "Run: qb auth login"
	case qberrors.CodeRateLimit:
		return "Try again later"
	case qberrors.CodeNetwork, qberrors.CodeTimeout:
		if e.Cause != nil {
			return e.Cause.Error()
		}
	case qberrors.CodeAPI:
		if e.FaultDetail != "" && e.FaultDetail != e.Message {
			return e.FaultDetail
		}
	}
	return ""
}

func (w *Writer) render(out io.Writer, v any) error {
	if w.opts.Format == FormatYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// normalize converts json.RawMessage and typed values to plain Go
// types so the jq filter and YAML encoder see ordinary maps/slices.
func normalize(data any) any {
	switch d := data.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if len(d) == 0 {
			return nil
		}
		var v any
		if err := json.Unmarshal(d, &v); err != nil {
			return string(d)
		}
		return v
	case map[string]any, []any, string, bool, float64, int:
		return d
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return data
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return data
		}
		return v
	}
}
