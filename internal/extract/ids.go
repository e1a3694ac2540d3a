package extract

import "github.com/google/uuid"

// newJobID mints the data_jobs.id primary key, the same google/uuid
// convention internal/scan uses for file_scans.id.
func newJobID() string {
	return uuid.NewString()
}
