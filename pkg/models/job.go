package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobStatus represents the state of a job in the system.
type JobStatus string

const (
	JobStatusActive   JobStatus = "ACTIVE"
	JobStatusPaused   JobStatus = "PAUSED"
	JobStatusArchived JobStatus = "ARCHIVED"
)

// JSONB structures need to implement Scanner/Valuer for GORM

// RetryPolicy controls how the scheduler re-dispatches failed executions.
type RetryPolicy struct {
	MaxRetries      int    `json:"max_retries"`
	BackoffStrategy string `json:"backoff_strategy"`
	InitialInterval string `json:"initial_interval"`
	MaxInterval     string `json:"max_interval"`
}

func (r *RetryPolicy) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, r)
}

func (r RetryPolicy) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Limits bounds one execution: wall-clock timeout and console log size.
type Limits struct {
	Timeout     string `json:"timeout"`
	MaxLogBytes int64  `json:"max_log_bytes"`
}

func (l *Limits) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

func (l Limits) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// ClearCaseView describes the snapshot view a job builds in. A job without
// a view tag has no SCM step and runs its command straight in the workspace.
type ClearCaseView struct {
	ViewTag    string `json:"view_tag"`
	ConfigSpec string `json:"config_spec"`
	Verbose    bool   `json:"verbose"`
}

// Enabled reports whether the job has an SCM step at all.
func (v ClearCaseView) Enabled() bool {
	return v.ViewTag != ""
}

func (v *ClearCaseView) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, v)
}

func (v ClearCaseView) Value() (driver.Value, error) {
	return json.Marshal(v)
}

// Job represents a scheduled build.
// Using GORM keys (primaryKey, type:uuid)
type Job struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string         `json:"name" gorm:"not null;uniqueIndex"`
	Schedule    string         `json:"schedule" gorm:"not null"`
	Command     string         `json:"command" gorm:"not null"`
	SCM         ClearCaseView  `json:"scm" gorm:"type:jsonb"`
	OwnerID     string         `json:"owner_id"`
	RetryPolicy RetryPolicy    `json:"retry_policy" gorm:"type:jsonb"`
	Limits      Limits         `json:"limits" gorm:"type:jsonb"`
	Status      JobStatus      `json:"status" gorm:"type:varchar(20);default:'ACTIVE'"`
	NextRunAt   *time.Time     `json:"next_run_at" gorm:"index"` // Index for fast polling
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"` // Soft Delete support
}

// BeforeCreate hook to generate UUID if not present
func (j *Job) BeforeCreate(tx *gorm.DB) (err error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return
}

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSuccess   ExecutionStatus = "SUCCESS"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// Execution is one run of a job. The transient snapshot fields carry
// everything an executor needs through the queue, so a node never has to
// read the jobs table to run a build.
type Execution struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	JobID       uuid.UUID       `json:"job_id" gorm:"type:uuid;not null;index:idx_job_scheduled,unique"`
	NodeID      *string         `json:"node_id"`
	ScheduledAt time.Time       `json:"scheduled_at" gorm:"not null;index:idx_job_scheduled,unique"`
	StartedAt   *time.Time      `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Status      ExecutionStatus `json:"status" gorm:"type:varchar(20);default:'PENDING'"`
	Attempt     int             `json:"attempt" gorm:"default:1"`
	ExitCode    int             `json:"exit_code"`
	OutputURI   string          `json:"output_uri"`
	Error       string          `json:"error,omitempty"`

	// Job snapshot for transport to the executor (not stored in the
	// executions table).
	JobName    string        `json:"job_name" gorm:"-"`
	JobCommand string        `json:"command" gorm:"-"`
	SCM        ClearCaseView `json:"scm" gorm:"-"`
	Limits     Limits        `json:"job_limits" gorm:"-"`
}

func (e *Execution) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}

// Snapshot copies the fields the executor needs from the job onto the
// execution before it is queued.
func (e *Execution) Snapshot(job *Job) {
	e.JobName = job.Name
	e.JobCommand = job.Command
	e.SCM = job.SCM
	e.Limits = job.Limits
}
