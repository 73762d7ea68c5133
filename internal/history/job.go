package history

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// VerifyJob tracks one asynchronous attestation check of an assistant
// message. The outcome lands on the message's is_verified flag;
// the job row itself is bookkeeping for the worker.
type VerifyJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	MessageID       uint64 `gorm:"index;not null"`
	SessionID       string `gorm:"size:26;index;not null"`
	ProviderAddress string `gorm:"type:varchar(42)"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (VerifyJob) TableName() string { return "verify_jobs" }
