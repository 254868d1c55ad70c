package domain

import "time"

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeImage       JobType = "image"
	JobTypeVideo       JobType = "video"
	JobTypeVideoExtend JobType = "video_extend"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ExtendMode enumerates continuation strategies for video_extend jobs.
type ExtendMode string

const (
	ExtendModeContinue    ExtendMode = "continue_last_frame"
	ExtendModeBridge      ExtendMode = "bridge_start_end"
	ExtendModeIndependent ExtendMode = "independent"
)

// Job encapsulates one asynchronous generation request and its lifecycle.
// CreditCost is fixed at dispatch time; its reservation lives on exactly one
// credential and is settled exactly once.
type Job struct {
	ID              string
	Type            JobType
	Status          JobStatus
	Engine          string
	Prompt          string
	DurationSeconds int
	Resolution      string
	CreditCost      int
	CredentialID    string
	ProviderJobID   string
	ResultURL       string
	ResultMeta      map[string]string
	ErrorMessage    string
	ParentJobID     string
	ExtendMode      ExtendMode
	SourceFrameRef  string
	SceneIndex      int
	ScriptID        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// ProducesVideo reports whether the job's result is a video clip that a
// follow-on extension can continue from.
func (j Job) ProducesVideo() bool {
	return j.Type == JobTypeVideo || j.Type == JobTypeVideoExtend
}

// ResultMetaFrameRef is the ResultMeta key under which the provider's frame
// reference for the generated asset is recorded.
const ResultMetaFrameRef = "frame_ref"
