package dto

import (
	"encoding/json"

	"github.com/noah-isme/civreg-api/internal/models"
)

// SubmitChangeRequest is the citizen payload proposing edits to their own
// record. Keys of Edits must belong to the editable-field whitelist.
type SubmitChangeRequest struct {
	Edits       map[string]json.RawMessage `json:"edits"`
	Description string                     `json:"description,omitempty"`
}

// DecideChangeRequest captures the reviewer decision and optional notes.
type DecideChangeRequest struct {
	Outcome models.RequestStatus `json:"outcome"`
	Notes   string               `json:"notes,omitempty"`
}

// ChangeRequestQuery mirrors supported listing filters.
type ChangeRequestQuery struct {
	Status   []models.RequestStatus
	PersonID string
}
