package trace

import (
	"encoding/json"
	"io"

	"fortio.org/safecast"
	"github.com/cockroachdb/errors"
)

// wireEvent is the JSON shape of one event as sent by the execution service.
type wireEvent struct {
	Event *string         `json:"event"`
	Func  *string         `json:"func"`
	Depth *float64        `json:"depth"`
	Args  Args            `json:"args"`
	Value json.RawMessage `json:"value"`
	Note  string          `json:"note"`
	Line  int             `json:"line"`
}

// Decode reads a complete JSON trace. Events that cannot be used are skipped
// and reported as diagnostics; only a document that is not a JSON array is an
// error.
func Decode(r io.Reader) ([]Event, []Diagnostic, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, nil, errors.Wrap(err, "decode trace")
	}
	return decodeRaw(raw)
}

// DecodeBytes is Decode over an in-memory document.
func DecodeBytes(data []byte) ([]Event, []Diagnostic, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, errors.Wrap(err, "decode trace")
	}
	return decodeRaw(raw)
}

func decodeRaw(raw []json.RawMessage) ([]Event, []Diagnostic, error) {
	events := make([]Event, 0, len(raw))
	var diags []Diagnostic
	for i, msg := range raw {
		ev, reason := decodeEvent(i, msg)
		if reason != "" {
			diags = append(diags, Diagnostic{Index: i, Kind: DiagMalformed, Reason: reason})
			continue
		}
		events = append(events, ev)
	}
	return events, diags, nil
}

// decodeEvent converts one wire element. A non-empty reason means the element
// is malformed.
func decodeEvent(index int, msg json.RawMessage) (Event, string) {
	var w wireEvent
	if err := json.Unmarshal(msg, &w); err != nil {
		return Event{}, err.Error()
	}
	if w.Event == nil {
		return Event{}, "missing event type"
	}
	kind, err := ParseKind(*w.Event)
	if err != nil {
		return Event{}, err.Error()
	}
	ev := Event{
		Index: index,
		Kind:  kind,
		Args:  w.Args,
		Note:  w.Note,
		Line:  w.Line,
	}
	if w.Func != nil {
		ev.Func = *w.Func
	}
	if kind == KindCall {
		if w.Func == nil || *w.Func == "" {
			return Event{}, "call without func"
		}
		if w.Depth == nil {
			return Event{}, "call without depth"
		}
		depth, err := safecast.Convert[int](*w.Depth)
		if err != nil || depth < 0 {
			return Event{}, "depth must be a non-negative integer"
		}
		ev.Depth = depth
	} else if w.Depth != nil {
		// A return takes its depth from the frame it pops; an unusable
		// value here is dropped rather than the event.
		if depth, err := safecast.Convert[int](*w.Depth); err == nil && depth >= 0 {
			ev.Depth = depth
		}
	}
	if len(w.Value) > 0 {
		if err := json.Unmarshal(w.Value, &ev.Value); err != nil {
			return Event{}, err.Error()
		}
		ev.HasValue = true
	}
	return ev, ""
}
