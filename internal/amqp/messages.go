package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names what happened to the record store.
type EventKind string

const (
	EventExport  EventKind = "export"
	EventImport  EventKind = "import"
	EventResolve EventKind = "resolve"
	// EventExpenses covers single expense or category edits.
	EventExpenses EventKind = "expenses"
)

// BackupEvent is a lightweight notification. Consumers re-read the record
// store instead of trusting counts in the message.
type BackupEvent struct {
	Kind       EventKind `json:"kind"`
	Path       string    `json:"path,omitempty"`
	Expenses   int       `json:"expenses,omitempty"`
	Inserted   int       `json:"inserted,omitempty"`
	Conflicts  int       `json:"conflicts,omitempty"`
	Discarded  int       `json:"discarded,omitempty"`
	Replaced   int       `json:"replaced,omitempty"`
	Duplicated int       `json:"duplicated,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewBackupEvent(kind EventKind) *BackupEvent {
	return &BackupEvent{
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// MutatesStore reports whether the event implies the expense table changed.
func (e *BackupEvent) MutatesStore() bool {
	return e.Kind != EventExport
}

func (e *BackupEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// BackupEventFromJSON rejects unknown event kinds.
func BackupEventFromJSON(data []byte) (*BackupEvent, error) {
	var ev BackupEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	switch ev.Kind {
	case EventExport, EventImport, EventResolve, EventExpenses:
	default:
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return &ev, nil
}
