// Package trace defines the call/return event stream produced by the
// execution service and decodes it from its JSON wire form.
package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind is the type of a trace event.
type Kind uint8

const (
	// KindCall marks a function entry.
	KindCall Kind = iota + 1
	// KindReturn marks a function exit.
	KindReturn
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindReturn:
		return "return"
	default:
		return "unknown"
	}
}

// ParseKind converts a wire name to a Kind. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call":
		return KindCall, nil
	case "return":
		return KindReturn, nil
	default:
		return 0, errors.Newf("unknown event type %q (expected: call|return)", s)
	}
}

// Arg is one named argument of a call.
type Arg struct {
	Name  string
	Value any
}

// Args holds call arguments in the order the service reported them.
type Args []Arg

// UnmarshalJSON decodes a JSON object keeping its key order.
func (a *Args) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.Newf("args: expected object, got %v", tok)
	}
	var out Args
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return errors.Newf("args: expected key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return errors.Wrapf(err, "args: value of %q", name)
		}
		out = append(out, Arg{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = out
	return nil
}

// MarshalJSON encodes the arguments as a JSON object in their original order.
func (a Args) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := MarshalValue(arg.Name)
		if err != nil {
			return nil, err
		}
		v, err := MarshalValue(arg.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "args: value of %q", arg.Name)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String renders the arguments as "a=1, b=\"x\"".
func (a Args) String() string {
	parts := make([]string, len(a))
	for i, arg := range a {
		parts[i] = arg.Name + "=" + FormatValue(arg.Value)
	}
	return strings.Join(parts, ", ")
}

// Event is a single call or return reported by the execution service.
type Event struct {
	Index    int    // position in the raw trace
	Kind     Kind   // call or return
	Func     string // function name; may be empty on returns
	Depth    int    // call depth reported by the service
	Args     Args
	Value    any  // return value
	HasValue bool // Value was present on the wire (it may be null)
	Note     string
	Line     int // source line for the editor, 0 if unknown

	// Filled in by graph construction. On a call NodeID is the new node and
	// ParentID its caller. On a return NodeID is the node that holds control
	// afterwards (the caller, or the returning node when none is left),
	// ParentID the caller and ReturnFrom the node that returned.
	NodeID     string
	ParentID   string
	ReturnFrom string
}

// Signature renders "func(args)".
func (e Event) Signature() string {
	return fmt.Sprintf("%s(%s)", e.Func, e.Args)
}

// FormatValue renders a decoded JSON value compactly. Values that cannot be
// encoded fall back to fmt formatting.
func FormatValue(v any) string {
	b, err := MarshalValue(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// MarshalValue is json.Marshal without HTML escaping, so "<" and ">" in
// values read as written.
func MarshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DiagKind classifies a recoverable ingestion problem.
type DiagKind uint8

const (
	// DiagMalformed is an event that could not be used and was skipped.
	DiagMalformed DiagKind = iota + 1
	// DiagUnderflow is a return with no open call.
	DiagUnderflow
	// DiagUnterminated is a call still open when the trace ended.
	DiagUnterminated
)

// String returns the string representation of DiagKind.
func (k DiagKind) String() string {
	switch k {
	case DiagMalformed:
		return "malformed"
	case DiagUnderflow:
		return "stack-underflow"
	case DiagUnterminated:
		return "unterminated"
	default:
		return "unknown"
	}
}

// Diagnostic records a problem that ingestion recovered from.
type Diagnostic struct {
	Index  int // raw trace position of the offending event
	Kind   DiagKind
	Reason string
}

// String renders "event N: kind: reason".
func (d Diagnostic) String() string {
	return fmt.Sprintf("event %d: %s: %s", d.Index, d.Kind, d.Reason)
}

// LogValue implements slog.LogValuer.
func (d Diagnostic) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("index", d.Index),
		slog.String("kind", d.Kind.String()),
		slog.String("reason", d.Reason),
	)
}
