package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"clearci/pkg/api/middleware"
	"clearci/pkg/models"
	"clearci/pkg/storage"
)

// cronParser accepts standard five-field crontab expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CreateJobRequest is the payload for creating a new job.
type CreateJobRequest struct {
	Name        string               `json:"name" binding:"required"`
	Schedule    string               `json:"schedule" binding:"required"`
	Command     string               `json:"command" binding:"required"`
	SCM         models.ClearCaseView `json:"scm"`
	RetryPolicy models.RetryPolicy   `json:"retry_policy"`
	Limits      models.Limits        `json:"limits"`
}

// UpdateJobRequest is the payload for updating a job. Nil fields are left
// untouched.
type UpdateJobRequest struct {
	Schedule    *string               `json:"schedule"`
	Command     *string               `json:"command"`
	SCM         *models.ClearCaseView `json:"scm"`
	RetryPolicy *models.RetryPolicy   `json:"retry_policy"`
	Limits      *models.Limits        `json:"limits"`
}

// JobResponse is the API representation of a job.
type JobResponse struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	Schedule    string               `json:"schedule"`
	Command     string               `json:"command"`
	SCM         models.ClearCaseView `json:"scm"`
	OwnerID     string               `json:"owner_id,omitempty"`
	RetryPolicy models.RetryPolicy   `json:"retry_policy"`
	Limits      models.Limits        `json:"limits"`
	Status      models.JobStatus     `json:"status"`
	NextRunAt   *time.Time           `json:"next_run_at"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// createJob handles POST /api/v1/jobs.
func (s *Server) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.validateJobFields(req.Name, req.Command, req.SCM); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	schedule, err := cronParser.Parse(req.Schedule)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cron schedule: " + err.Error()})
		return
	}
	nextRun := schedule.Next(time.Now())

	job := &models.Job{
		ID:          uuid.New(),
		Name:        req.Name,
		Schedule:    req.Schedule,
		Command:     req.Command,
		SCM:         req.SCM,
		RetryPolicy: req.RetryPolicy,
		Limits:      req.Limits,
		Status:      models.JobStatusActive,
		NextRunAt:   &nextRun,
	}
	if claims, ok := middleware.GetUserFromContext(c); ok {
		job.OwnerID = claims.UserID
	}

	if err := s.jobStore.CreateJob(c.Request.Context(), job); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "a job with this name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, jobToResponse(job))
}

// listJobs handles GET /api/v1/jobs.
func (s *Server) listJobs(c *gin.Context) {
	limit, offset := pagination(c)

	jobs, err := s.jobStore.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs: " + err.Error()})
		return
	}

	response := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		response[i] = jobToResponse(&job)
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  response,
		"count": len(response),
	})
}

// getJob handles GET /api/v1/jobs/:id.
func (s *Server) getJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

// updateJob handles PATCH /api/v1/jobs/:id.
func (s *Server) updateJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	var req UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Command != nil {
		if err := s.validator.ValidateCommand(*req.Command); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job.Command = *req.Command
	}
	if req.SCM != nil {
		if err := s.validateSCM(*req.SCM); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job.SCM = *req.SCM
	}
	if req.Schedule != nil {
		schedule, err := cronParser.Parse(*req.Schedule)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cron schedule: " + err.Error()})
			return
		}
		job.Schedule = *req.Schedule
		nextRun := schedule.Next(time.Now())
		job.NextRunAt = &nextRun
	}
	if req.RetryPolicy != nil {
		job.RetryPolicy = *req.RetryPolicy
	}
	if req.Limits != nil {
		job.Limits = *req.Limits
	}

	if err := s.jobStore.UpdateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// deleteJob handles DELETE /api/v1/jobs/:id.
func (s *Server) deleteJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	if err := s.jobStore.DeleteJob(c.Request.Context(), job.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job deleted", "id": job.ID})
}

// pauseJob handles POST /api/v1/jobs/:id/pause.
func (s *Server) pauseJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	if err := s.jobStore.UpdateJobStatus(c.Request.Context(), job.ID, models.JobStatusPaused); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to pause job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job paused", "id": job.ID})
}

// resumeJob handles POST /api/v1/jobs/:id/resume. The next run is
// recomputed from now so a long pause doesn't fire a backlog of builds.
func (s *Server) resumeJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.jobStore.UpdateJobStatus(ctx, job.ID, models.JobStatusActive); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resume job: " + err.Error()})
		return
	}

	if schedule, err := cronParser.Parse(job.Schedule); err == nil {
		nextRun := schedule.Next(time.Now())
		if err := s.jobStore.UpdateNextRun(ctx, job.ID, nextRun); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reschedule job: " + err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "job resumed", "id": job.ID})
}

// triggerJob handles POST /api/v1/jobs/:id/trigger. Manual triggers work on
// paused jobs too: pause stops the schedule, not the operator.
func (s *Server) triggerJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	exec := &models.Execution{
		ID:          uuid.New(),
		JobID:       job.ID,
		ScheduledAt: time.Now().UTC(),
		Status:      models.ExecutionPending,
		Attempt:     1,
	}
	exec.Snapshot(job)

	ctx := c.Request.Context()
	if err := s.execStore.CreateExecution(ctx, exec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create execution: " + err.Error()})
		return
	}
	if err := s.queue.Push(ctx, exec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue execution: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":      "job triggered",
		"execution_id": exec.ID,
	})
}

// listJobExecutions handles GET /api/v1/jobs/:id/executions.
func (s *Server) listJobExecutions(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	limit, offset := pagination(c)
	execs, err := s.execStore.ListExecutions(c.Request.Context(), job.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":     job.ID,
		"executions": execs,
		"count":      len(execs),
	})
}

// lookupJob resolves the :id path parameter as a UUID or, failing that, a
// job name. It writes the error response itself when the job can't be
// found.
func (s *Server) lookupJob(c *gin.Context) (*models.Job, bool) {
	param := c.Param("id")
	ctx := c.Request.Context()

	var (
		job *models.Job
		err error
	)
	if id, parseErr := uuid.Parse(param); parseErr == nil {
		job, err = s.jobStore.GetJob(ctx, id)
	} else {
		job, err = s.jobStore.GetJobByName(ctx, param)
	}

	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job: " + err.Error()})
		}
		return nil, false
	}
	return job, true
}

// validateJobFields checks the user-controlled fields of a job.
func (s *Server) validateJobFields(name, command string, scm models.ClearCaseView) error {
	if err := s.validator.ValidateName(name); err != nil {
		return err
	}
	if err := s.validator.ValidateCommand(command); err != nil {
		return err
	}
	return s.validateSCM(scm)
}

func (s *Server) validateSCM(scm models.ClearCaseView) error {
	if !scm.Enabled() {
		return nil
	}
	if err := s.validator.ValidateViewTag(scm.ViewTag); err != nil {
		return err
	}
	return s.validator.ValidateConfigSpec(scm.ConfigSpec)
}

// pagination reads limit and offset query parameters with sane bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
		if limit > 200 {
			limit = 200
		}
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func jobToResponse(job *models.Job) JobResponse {
	return JobResponse{
		ID:          job.ID,
		Name:        job.Name,
		Schedule:    job.Schedule,
		Command:     job.Command,
		SCM:         job.SCM,
		OwnerID:     job.OwnerID,
		RetryPolicy: job.RetryPolicy,
		Limits:      job.Limits,
		Status:      job.Status,
		NextRunAt:   job.NextRunAt,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
