package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action enumerates the change kinds carried by an envelope.
type Action string

const (
	// ActionCreate transports a record first created on the sending side.
	ActionCreate Action = "create"
	// ActionUpdate transports a modification to an existing record.
	ActionUpdate Action = "update"
	// ActionDelete requests removal of the record identified by the data uuid.
	ActionDelete Action = "delete"
)

var (
	// ErrMissingUUID indicates envelope data without the mandatory uuid field.
	ErrMissingUUID = errors.New("syncer: envelope data missing uuid")
	// ErrUnknownAction indicates an action outside create/update/delete.
	ErrUnknownAction = errors.New("syncer: unknown envelope action")
)

// Envelope is the unit exchanged between client and server. Data carries the
// full record snapshot so replaying an envelope is idempotent.
type Envelope struct {
	Table  string          `json:"table"`
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Meta is the sync metadata every envelope payload must carry.
type Meta struct {
	UUID             string `json:"uuid"`
	LastModified     int64  `json:"last_modified"`
	ServerModifiedAt int64  `json:"serverModifiedAt"`
}

// Meta extracts and validates the sync metadata from the envelope payload.
func (e Envelope) Meta() (Meta, error) {
	switch e.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return Meta{}, fmt.Errorf("%w: %q", ErrUnknownAction, e.Action)
	}

	var meta Meta
	if err := json.Unmarshal(e.Data, &meta); err != nil {
		return Meta{}, fmt.Errorf("syncer: malformed envelope data: %w", err)
	}
	if meta.UUID == "" {
		return Meta{}, ErrMissingUUID
	}
	return meta, nil
}

// ActionForStatus maps a pending local status onto the wire action.
func ActionForStatus(status string) (Action, bool) {
	switch status {
	case "local_new":
		return ActionCreate, true
	case "local_modified":
		return ActionUpdate, true
	case "local_deleted":
		return ActionDelete, true
	default:
		return "", false
	}
}
