// Package feishu renders build events as Feishu bot "post" messages.
package feishu

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/tcwebhook/internal/event"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/render"
)

const (
	tagText = "text"
	tagLink = "a"

	defaultStatus = "success"
	clickPrompt   = "U can click: "
	linkLabel     = "teamcity url \n"
)

var (
	errMissing  = errors.New("field missing")
	errNotText  = errors.New("field is not a string")
	errNotBlock = errors.New("field is not an object")
)

// ConstructionError reports the field that stopped message construction.
type ConstructionError struct {
	Field string
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("feishu: build message: %s: %v", e.Field, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Line is one element of a post paragraph: plain text, or a link when Tag is "a".
// Link lines always encode href, even when empty; text lines never do.
type Line struct {
	Tag  string
	Text string
	Href string
}

type textLine struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type linkLine struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href"`
}

func (l Line) MarshalJSON() ([]byte, error) {
	if l.Tag == tagLink {
		return render.Encode(linkLine(l))
	}
	return render.Encode(textLine{Tag: l.Tag, Text: l.Text})
}

// Message is the Feishu post envelope. Field order matches the wire format.
type Message struct {
	MsgType string  `json:"msg_type"`
	Content Content `json:"content"`
}

type Content struct {
	Post Post `json:"post"`
}

type Post struct {
	ZhCN Body `json:"zh_cn"`
}

type Body struct {
	Title   string   `json:"title"`
	Content [][]Line `json:"content"`
}

// Lines returns the single paragraph the renderer emits.
func (m Message) Lines() []Line {
	if len(m.Content.Post.ZhCN.Content) == 0 {
		return nil
	}
	return m.Content.Post.ZhCN.Content[0]
}

// Renderer builds Feishu messages on a best-effort basis: malformed documents
// degrade the message instead of failing the call.
type Renderer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger.With("renderer", string(render.FormatFeishu))}
}

func (r *Renderer) Format() render.Format { return render.FormatFeishu }

// Render never returns an error. Construction failures are reported through
// Result.Diagnostic alongside the lines assembled before the failure.
func (r *Renderer) Render(ev event.Event, doc []byte) (render.Result, error) {
	msg, diag := Build(ev.Type, doc)
	if diag != nil {
		r.logger.Warn("feishu message incomplete",
			"event_type", ev.Type,
			"object_id", string(ev.ObjectID),
			"document", string(doc),
			"err", diag,
		)
	}
	out, err := render.Encode(msg)
	if err != nil {
		// Message holds only strings.
		return render.Result{Format: r.Format(), Payload: []byte(`{}`), Diagnostic: err}, nil
	}
	return render.Result{Format: r.Format(), Payload: out, Diagnostic: diag}, nil
}

// Build assembles the message for eventType from a build resource document.
// On failure it returns the message holding every line built so far.
func Build(eventType string, doc []byte) (Message, error) {
	msg := Message{
		MsgType: "post",
		Content: Content{Post: Post{ZhCN: Body{
			Title:   eventType,
			Content: [][]Line{{}},
		}}},
	}
	lines, err := buildLines(eventType, doc)
	msg.Content.Post.ZhCN.Content[0] = lines
	return msg, err
}

func buildLines(eventType string, doc []byte) ([]Line, error) {
	lines := []Line{}

	var obj map[string]any
	if err := json.Unmarshal(doc, &obj); err != nil {
		return lines, &ConstructionError{Field: "document", Err: err}
	}
	if obj == nil {
		return lines, &ConstructionError{Field: "document", Err: errNotBlock}
	}

	if eventType != event.BuildStarted {
		// statusText carries the failure reason when a build did not succeed,
		// e.g. "Tests failed: 160 (142 new), passed: 260".
		status, err := optionalString(obj, "statusText", defaultStatus)
		if err != nil {
			return lines, err
		}
		lines = append(lines, text("status: "+status+"\n"))
	}

	buildType, err := requiredString(obj, "buildTypeId")
	if err != nil {
		return lines, err
	}
	lines = append(lines, text("project: "+buildType+"\n"))

	lines = append(lines, text(clickPrompt))

	webURL, err := requiredString(obj, "webUrl")
	if err != nil {
		return lines, err
	}
	lines = append(lines, Line{Tag: tagLink, Text: linkLabel, Href: webURL})

	triggered, err := object(obj, "triggered", "triggered")
	if err != nil {
		return lines, err
	}
	user, err := object(triggered, "user", "triggered.user")
	if err != nil {
		return lines, err
	}
	username, err := requiredStringAt(user, "username", "triggered.user.username")
	if err != nil {
		return lines, err
	}
	lines = append(lines, text("triggerman: "+username+"\n"))

	return lines, nil
}

func text(s string) Line {
	return Line{Tag: tagText, Text: s}
}

func optionalString(m map[string]any, key, def string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ConstructionError{Field: key, Err: errNotText}
	}
	return s, nil
}

func requiredString(m map[string]any, key string) (string, error) {
	return requiredStringAt(m, key, key)
}

func requiredStringAt(m map[string]any, key, path string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", &ConstructionError{Field: path, Err: errMissing}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ConstructionError{Field: path, Err: errNotText}
	}
	return s, nil
}

func object(m map[string]any, key, path string) (map[string]any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, &ConstructionError{Field: path, Err: errMissing}
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, &ConstructionError{Field: path, Err: errNotBlock}
	}
	return sub, nil
}
