package models

import "time"

// FileVersion describes one immutable version of a logical file. The
// bytes themselves live in object storage under StorageKey; the row maps
// version ids to storage keys so download URLs can be presigned on demand.
type FileVersion struct {
	ID          string
	FileID      string
	Version     int64
	StorageKey  string
	ContentType string
	CreatedAt   time.Time
}
