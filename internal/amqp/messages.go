package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"budgetviz/internal/core"
	"budgetviz/internal/dashboard"
)

// Routing keys.
const (
	EventSnapshot = "dashboard.snapshot"

	CommandUpdateFilters = "filters.update"
	CommandSelect        = "segment.select"
	CommandClear         = "selection.clear"
	CommandRefresh       = "dashboard.refresh"
)

// ErrMalformedCommand marks a message that can never be processed.
var ErrMalformedCommand = errors.New("malformed command")

// Command is a request from the rendering layer.
type Command struct {
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type"`
	Patch      *core.FilterPatch `json:"patch,omitempty"`
	Category   string            `json:"category,omitempty"`
	TimePeriod string            `json:"timePeriod,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
}

// CommandFromJSON decodes and checks a command body.
func CommandFromJSON(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	switch cmd.Type {
	case CommandUpdateFilters:
		if cmd.Patch == nil {
			return nil, fmt.Errorf("%w: %s without patch", ErrMalformedCommand, cmd.Type)
		}
	case CommandSelect, CommandClear, CommandRefresh:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedCommand, cmd.Type)
	}
	return &cmd, nil
}

func (c *Command) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// SnapshotEvent wraps a dashboard snapshot for publishing.
type SnapshotEvent struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Snapshot  dashboard.Snapshot `json:"snapshot"`
}

func NewSnapshotEvent(s dashboard.Snapshot) *SnapshotEvent {
	return &SnapshotEvent{
		ID:        uuid.NewString(),
		Type:      EventSnapshot,
		Timestamp: time.Now().UTC(),
		Snapshot:  s,
	}
}

func (e *SnapshotEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
