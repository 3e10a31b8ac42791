package models

import "time"

// Document is a file uploaded in support of a change request.
type Document struct {
	ID              string    `db:"id" json:"id"`
	ChangeRequestID string    `db:"change_request_id" json:"changeRequestId"`
	FileName        string    `db:"file_name" json:"fileName"`
	MIMEType        string    `db:"mime_type" json:"mimeType"`
	SizeBytes       int64     `db:"size_bytes" json:"sizeBytes"`
	StorageKey      string    `db:"storage_key" json:"-"`
	UploadedBy      string    `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}
