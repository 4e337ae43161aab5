// Package audit defines the append-only audit trail of run and finding changes.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// Entry records one change of an entity with before/after snapshots.
type Entry struct {
	id           shared.ID
	namespaceID  int64
	resourceType ResourceType
	resourceID   string
	action       Action
	actor        string
	before       json.RawMessage
	after        json.RawMessage
	message      string
	timestamp    time.Time
}

// NewEntry creates an entry. before and after are encoded as JSON; a nil
// snapshot is stored as JSON null.
func NewEntry(
	namespaceID int64,
	resourceType ResourceType,
	resourceID string,
	action Action,
	before, after any,
) (*Entry, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: invalid action", shared.ErrValidation)
	}
	if !resourceType.IsValid() {
		return nil, fmt.Errorf("%w: invalid resource type", shared.ErrValidation)
	}
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id is required", shared.ErrValidation)
	}

	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, SnapshotError(err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, SnapshotError(err)
	}

	return &Entry{
		id:           shared.NewID(),
		namespaceID:  namespaceID,
		resourceType: resourceType,
		resourceID:   resourceID,
		action:       action,
		actor:        SystemActor,
		before:       beforeJSON,
		after:        afterJSON,
		timestamp:    time.Now().UTC(),
	}, nil
}

// Reconstitute recreates an Entry from persistence.
func Reconstitute(
	id shared.ID,
	namespaceID int64,
	resourceType ResourceType,
	resourceID string,
	action Action,
	actor string,
	before, after json.RawMessage,
	message string,
	timestamp time.Time,
) *Entry {
	return &Entry{
		id:           id,
		namespaceID:  namespaceID,
		resourceType: resourceType,
		resourceID:   resourceID,
		action:       action,
		actor:        actor,
		before:       before,
		after:        after,
		message:      message,
		timestamp:    timestamp,
	}
}

// Getters

func (e *Entry) ID() shared.ID              { return e.id }
func (e *Entry) NamespaceID() int64         { return e.namespaceID }
func (e *Entry) ResourceType() ResourceType { return e.resourceType }
func (e *Entry) ResourceID() string         { return e.resourceID }
func (e *Entry) Action() Action             { return e.action }
func (e *Entry) Actor() string              { return e.actor }
func (e *Entry) Before() json.RawMessage    { return e.before }
func (e *Entry) After() json.RawMessage     { return e.after }
func (e *Entry) Message() string            { return e.message }
func (e *Entry) Timestamp() time.Time       { return e.timestamp }

// Builder methods

// WithActor sets the user that performed the action.
func (e *Entry) WithActor(actor string) *Entry {
	if actor != "" {
		e.actor = actor
	}
	return e
}

// WithMessage sets a human-readable description.
func (e *Entry) WithMessage(message string) *Entry {
	e.message = message
	return e
}

// GenerateMessage returns the message, or a default one if none is set.
func (e *Entry) GenerateMessage() string {
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("%s performed %s on %s %s", e.actor, e.action, e.resourceType, e.resourceID)
}
