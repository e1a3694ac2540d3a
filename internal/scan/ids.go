package scan

import "github.com/google/uuid"

// newScanID mints the file_scans.id primary key, google/uuid per the rest
// of the gateway's job-identifier convention (internal/writer's callers,
// internal/extract's data_jobs.id).
func newScanID() string {
	return uuid.NewString()
}
