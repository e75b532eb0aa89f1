package render

import (
	"bytes"
	"encoding/json"

	"github.com/gyaneshwarpardhi/tcwebhook/internal/event"
)

// Format selects the renderer for an outbound payload.
type Format string

const (
	FormatGenericChat Format = "generic-chat"
	FormatFeishu      Format = "feishu"
)

// Result is a rendered payload. A non-nil Diagnostic means the renderer hit
// malformed input and Payload holds only what could be assembled.
type Result struct {
	Format     Format          `json:"format"`
	Payload    json.RawMessage `json:"payload"`
	Diagnostic error           `json:"-"`
}

// Partial reports whether the payload was rendered on a best-effort basis.
func (r Result) Partial() bool {
	return r.Diagnostic != nil
}

// Renderer is the interface all payload formats must satisfy.
type Renderer interface {
	// Format returns the key this renderer is registered under.
	Format() Format
	// Render turns the fetched resource document into the outbound payload.
	Render(ev event.Event, doc []byte) (Result, error)
}

// Encode marshals v without HTML escaping so URLs in payloads stay readable.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
