// Package resource maps build-server event types onto the REST resource that
// describes the event's subject.
package resource

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/tcwebhook/internal/event"
)

// ErrUnsupportedEventType is returned when no Kind covers an event type.
var ErrUnsupportedEventType = errors.New("resource: unsupported event type")

// Kind is a category of build-server object. It owns the event types that
// describe it and the path prefix its resources are looked up under.
type Kind struct {
	Name       string   `json:"name"`
	PathPrefix string   `json:"path_prefix"`
	EventTypes []string `json:"event_types"`
}

// Path returns the lookup path for the given object id.
func (k Kind) Path(objectID event.ObjectID) string {
	return k.PathPrefix + string(objectID)
}

// Covers reports whether eventType belongs to k.
func (k Kind) Covers(eventType string) bool {
	for _, t := range k.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

var (
	Agent = Kind{
		Name:       "AGENT",
		PathPrefix: "/resource/agents/id:",
		EventTypes: []string{
			event.AgentRegistered,
			event.AgentUnregistered,
			event.AgentRemoved,
		},
	}
	Build = Kind{
		Name:       "BUILD",
		PathPrefix: "/resource/builds/promotionId:",
		EventTypes: []string{
			event.BuildStarted,
			event.BuildFinished,
			event.BuildInterrupted,
			event.ChangesLoaded,
			event.BuildAddedToQueue,
			event.BuildRemovedFromQueue,
			event.BuildProblemsChanged,
		},
	}
)

// kinds is scanned in order; the first Kind covering an event type wins.
var kinds = []Kind{Agent, Build}

func init() {
	if err := checkDisjoint(kinds); err != nil {
		panic(err)
	}
}

// Classify returns the Kind covering eventType.
func Classify(eventType string) (Kind, error) {
	return classify(kinds, eventType)
}

// IsSupported reports whether some Kind covers eventType. It never fails.
func IsSupported(eventType string) bool {
	_, err := Classify(eventType)
	return err == nil
}

// Path classifies ev and returns the lookup path of its subject.
// Object ids that would leave the kind's resource are rejected.
func Path(ev event.Event) (string, error) {
	k, err := Classify(ev.Type)
	if err != nil {
		return "", err
	}
	if err := ev.ObjectID.Validate(); err != nil {
		return "", err
	}
	return k.Path(ev.ObjectID), nil
}

// Kinds returns a copy of the classification table in scan order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	for i, k := range kinds {
		k.EventTypes = append([]string(nil), k.EventTypes...)
		out[i] = k
	}
	return out
}

func classify(table []Kind, eventType string) (Kind, error) {
	for _, k := range table {
		if k.Covers(eventType) {
			return k, nil
		}
	}
	return Kind{}, fmt.Errorf("%w: %q", ErrUnsupportedEventType, eventType)
}

// checkDisjoint rejects tables where an event type belongs to more than one Kind.
func checkDisjoint(table []Kind) error {
	owner := make(map[string]string)
	for _, k := range table {
		for _, t := range k.EventTypes {
			if prev, ok := owner[t]; ok {
				return fmt.Errorf("resource: event type %q claimed by both %s and %s", t, prev, k.Name)
			}
			owner[t] = k.Name
		}
	}
	return nil
}
