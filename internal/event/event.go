package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Event types emitted by the build server.
const (
	AgentRegistered       = "AGENT_REGISTERED"
	AgentUnregistered     = "AGENT_UNREGISTERED"
	AgentRemoved          = "AGENT_REMOVED"
	BuildStarted          = "BUILD_STARTED"
	BuildFinished         = "BUILD_FINISHED"
	BuildInterrupted      = "BUILD_INTERRUPTED"
	ChangesLoaded         = "CHANGES_LOADED"
	BuildAddedToQueue     = "BUILD_TYPE_ADDED_TO_QUEUE"
	BuildRemovedFromQueue = "BUILD_REMOVED_FROM_QUEUE"
	BuildProblemsChanged  = "BUILD_PROBLEMS_CHANGED"
)

// Event is the canonical input model: a lifecycle event about one build-server object.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"event_type"`
	ObjectID   ObjectID  `json:"object_id"`
	ReceivedAt time.Time `json:"-"`
}

// ErrInvalidObjectID is returned by ObjectID.Validate.
var ErrInvalidObjectID = errors.New("event: invalid object_id")

// ObjectID identifies the event's subject. The event source hands out both
// integer and string ids, so JSON numbers are accepted as well as strings.
type ObjectID string

func (o *ObjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = ObjectID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("event: object_id must be a string or number: %w", err)
	}
	*o = ObjectID(n.String())
	return nil
}

// Validate reports whether o can be appended to a resource path as a single
// segment. Empty ids, dot segments, path and query separators and control
// characters are rejected.
func (o ObjectID) Validate() error {
	s := string(o)
	switch s {
	case "":
		return fmt.Errorf("%w: empty", ErrInvalidObjectID)
	case ".", "..":
		return fmt.Errorf("%w: %q", ErrInvalidObjectID, s)
	}
	if strings.ContainsAny(s, "/\\?#%") || strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidObjectID, s)
	}
	return nil
}
