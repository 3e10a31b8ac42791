package models

import "time"

// RequestStatus captures workflow states for change requests.
type RequestStatus string

const (
	RequestStatusPending     RequestStatus = "PENDING"
	RequestStatusUnderReview RequestStatus = "UNDER_REVIEW"
	RequestStatusApproved    RequestStatus = "APPROVED"
	RequestStatusRejected    RequestStatus = "REJECTED"
	RequestStatusCancelled   RequestStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the request still occupies the person's single
// active-request slot.
func (s RequestStatus) Active() bool {
	return s == RequestStatusPending || s == RequestStatusUnderReview
}

// RequestType enumerates supported change-request categories.
type RequestType string

const (
	RequestTypeUpdatePersonalInfo RequestType = "UPDATE_PERSONAL_INFO"
	RequestTypeUpdateAddress      RequestType = "UPDATE_ADDRESS"
	RequestTypeUpdateContact      RequestType = "UPDATE_CONTACT"
	RequestTypeCorrectData        RequestType = "CORRECT_DATA"
	RequestTypeAddDocument        RequestType = "ADD_DOCUMENT"
)

// EditableFields is the single authoritative whitelist of Person fields a
// citizen may propose to change. Both submission validation and the
// currentData snapshot are driven off this set.
var EditableFields = map[string]struct{}{
	"firstName":         {},
	"lastName":          {},
	"middleName":        {},
	"dateOfBirth":       {},
	"placeOfBirth":      {},
	"gender":            {},
	"citizenshipStatus": {},
	"nationality":       {},
	"photo":             {},
	"email":             {},
	"phone":             {},
}

// ChangeRequest is a citizen-submitted proposal to modify their own Person
// record. RequestedChanges and CurrentData are JSON objects keyed by
// whitelisted field names; CurrentData snapshots the pre-change values at
// submission time for audit comparison.
type ChangeRequest struct {
	ID               string        `db:"id" json:"id"`
	RequestNumber    string        `db:"request_number" json:"requestNumber"`
	PersonID         string        `db:"person_id" json:"personId"`
	SubmittedBy      string        `db:"submitted_by" json:"submittedBy"`
	RequestType      RequestType   `db:"request_type" json:"requestType"`
	Status           RequestStatus `db:"status" json:"status"`
	RequestedChanges []byte        `db:"requested_changes" json:"requestedChanges"`
	CurrentData      []byte        `db:"current_data" json:"currentData"`
	Description      *string       `db:"description" json:"description,omitempty"`
	ReviewedBy       *string       `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ProcessedBy      *string       `db:"processed_by" json:"processedBy,omitempty"`
	ProcessingNotes  *string       `db:"processing_notes" json:"processingNotes,omitempty"`
	ProcessedAt      *time.Time    `db:"processed_at" json:"processedAt,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
}

// ChangeRequestFilter constrains listing queries.
type ChangeRequestFilter struct {
	Status      []RequestStatus
	PersonID    string
	SubmittedBy string
	Limit       int
	Offset      int
}
