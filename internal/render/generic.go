package render

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/tcwebhook/internal/event"
)

// ErrInvalidDocument is returned when a fetched document is not valid JSON
// and so cannot be embedded.
var ErrInvalidDocument = errors.New("render: fetched document is not valid JSON")

// Generic wraps the fetched document unchanged next to the event type:
//
//	{"eventType": "...", "payload": <document>}
type Generic struct{}

func NewGeneric() *Generic { return &Generic{} }

func (g *Generic) Format() Format { return FormatGenericChat }

type genericEnvelope struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

func (g *Generic) Render(ev event.Event, doc []byte) (Result, error) {
	if !json.Valid(doc) {
		return Result{Format: g.Format()}, fmt.Errorf("%w (event %s)", ErrInvalidDocument, ev.Type)
	}
	out, err := Encode(genericEnvelope{EventType: ev.Type, Payload: doc})
	if err != nil {
		return Result{Format: g.Format()}, fmt.Errorf("render generic: %w", err)
	}
	return Result{Format: g.Format(), Payload: out}, nil
}
