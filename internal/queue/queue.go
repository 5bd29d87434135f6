// Package queue is the redis-backed analysis job queue. Jobs are scored
// by priority and age in a sorted set; workers move them through a
// processing set so a crashed worker's jobs can be reclaimed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	AnalysisJobsQueue      = "comply:jobs:analysis"
	AnalysisJobsProcessing = "comply:jobs:processing"
	AnalysisJobsCompleted  = "comply:jobs:completed"
	AnalysisJobsFailed     = "comply:jobs:failed"
	WorkerHeartbeatKey     = "comply:workers:heartbeat"
	JobStatusPrefix        = "comply:job:status:"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Queue struct {
	client *redis.Client
}

func New(cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Job carries one queued analysis. ID is the analysis record id so the
// queue entry and the database row always refer to the same run.
type Job struct {
	ID          uuid.UUID `json:"id"`
	FrameworkID uuid.UUID `json:"framework_id"`
	TriggeredBy uuid.UUID `json:"triggered_by"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	Attempts    int       `json:"attempts"`
}

type JobStatus struct {
	JobID       uuid.UUID  `json:"job_id"`
	Status      string     `json:"status"`
	WorkerID    string     `json:"worker_id,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (q *Queue) EnqueueAnalysis(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	score := float64(time.Now().Unix()) - float64(job.Priority*1000)

	if err := q.client.ZAdd(ctx, AnalysisJobsQueue, redis.Z{
		Score:  score,
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}

	status := &JobStatus{
		JobID:  job.ID,
		Status: "pending",
	}
	if err := q.UpdateStatus(ctx, status); err != nil {
		return fmt.Errorf("initializing job status: %w", err)
	}

	return nil
}

func (q *Queue) DequeueJob(ctx context.Context, workerID string) (*Job, error) {
	results, err := q.client.ZPopMin(ctx, AnalysisJobsQueue, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("dequeuing job: %w", err)
	}

	if len(results) == 0 {
		return nil, nil // No jobs available
	}

	var job Job
	if err := json.Unmarshal([]byte(results[0].Member.(string)), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job: %w", err)
	}

	data, _ := json.Marshal(job)
	if err := q.client.SAdd(ctx, AnalysisJobsProcessing, string(data)).Err(); err != nil {
		q.client.ZAdd(ctx, AnalysisJobsQueue, redis.Z{
			Score:  results[0].Score,
			Member: results[0].Member,
		})
		return nil, fmt.Errorf("marking job as processing: %w", err)
	}

	now := time.Now()
	_ = q.UpdateStatus(ctx, &JobStatus{
		JobID:     job.ID,
		Status:    "running",
		StartedAt: &now,
		WorkerID:  workerID,
	})

	return &job, nil
}

func (q *Queue) CompleteJob(ctx context.Context, job *Job, success bool) error {
	data, _ := json.Marshal(job)

	q.client.SRem(ctx, AnalysisJobsProcessing, string(data))

	targetSet := AnalysisJobsCompleted
	statusName := "completed"
	if !success {
		targetSet = AnalysisJobsFailed
		statusName = "failed"
	}

	if err := q.client.SAdd(ctx, targetSet, string(data)).Err(); err != nil {
		return fmt.Errorf("marking job complete: %w", err)
	}

	now := time.Now()
	status, _ := q.GetStatus(ctx, job.ID)
	if status == nil {
		status = &JobStatus{JobID: job.ID}
	}
	status.Status = statusName
	status.CompletedAt = &now
	_ = q.UpdateStatus(ctx, status)

	return nil
}

// RequeueJob puts a job back after an infrastructure failure, with
// backoff. After three attempts the job goes to the failed set; the
// analysis record itself has already been marked failed by then or will
// be caught by the reconciliation sweep.
func (q *Queue) RequeueJob(ctx context.Context, job *Job, errorMsg string) error {
	data, _ := json.Marshal(job)

	q.client.SRem(ctx, AnalysisJobsProcessing, string(data))

	job.Attempts++

	if job.Attempts >= 3 {
		return q.CompleteJob(ctx, job, false)
	}

	newData, _ := json.Marshal(job)
	backoff := time.Duration(job.Attempts*30) * time.Second
	score := float64(time.Now().Add(backoff).Unix())

	if err := q.client.ZAdd(ctx, AnalysisJobsQueue, redis.Z{
		Score:  score,
		Member: string(newData),
	}).Err(); err != nil {
		return fmt.Errorf("requeuing job: %w", err)
	}

	status, _ := q.GetStatus(ctx, job.ID)
	if status == nil {
		status = &JobStatus{JobID: job.ID}
	}
	status.Status = "pending"
	status.Errors = append(status.Errors, errorMsg)
	_ = q.UpdateStatus(ctx, status)

	return nil
}

func (q *Queue) UpdateStatus(ctx context.Context, status *JobStatus) error {
	status.UpdatedAt = time.Now()
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshaling job status: %w", err)
	}

	key := JobStatusPrefix + status.JobID.String()
	if err := q.client.Set(ctx, key, string(data), 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}

	return nil
}

func (q *Queue) GetStatus(ctx context.Context, jobID uuid.UUID) (*JobStatus, error) {
	key := JobStatusPrefix + jobID.String()
	data, err := q.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job status: %w", err)
	}

	var status JobStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("unmarshaling job status: %w", err)
	}

	return &status, nil
}

func (q *Queue) GetQueueStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	pending, _ := q.client.ZCard(ctx, AnalysisJobsQueue).Result()
	processing, _ := q.client.SCard(ctx, AnalysisJobsProcessing).Result()
	completed, _ := q.client.SCard(ctx, AnalysisJobsCompleted).Result()
	failed, _ := q.client.SCard(ctx, AnalysisJobsFailed).Result()

	stats["pending"] = pending
	stats["processing"] = processing
	stats["completed"] = completed
	stats["failed"] = failed

	return stats, nil
}

func (q *Queue) WorkerHeartbeat(ctx context.Context, workerID string) error {
	return q.client.HSet(ctx, WorkerHeartbeatKey, workerID, time.Now().Unix()).Err()
}

func (q *Queue) GetActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error) {
	workers, err := q.client.HGetAll(ctx, WorkerHeartbeatKey).Result()
	if err != nil {
		return nil, fmt.Errorf("getting workers: %w", err)
	}

	var active []string
	cutoff := time.Now().Add(-timeout).Unix()

	for workerID, lastSeen := range workers {
		var ts int64
		_, _ = fmt.Sscanf(lastSeen, "%d", &ts)
		if ts > cutoff {
			active = append(active, workerID)
		}
	}

	return active, nil
}

// CleanupStaleJobs reclaims processing entries whose status has not been
// touched within the timeout, typically because a worker died mid-run.
func (q *Queue) CleanupStaleJobs(ctx context.Context, timeout time.Duration) (int, error) {
	jobs, err := q.client.SMembers(ctx, AnalysisJobsProcessing).Result()
	if err != nil {
		return 0, fmt.Errorf("getting processing jobs: %w", err)
	}

	cleaned := 0
	for _, jobData := range jobs {
		var job Job
		if err := json.Unmarshal([]byte(jobData), &job); err != nil {
			continue
		}

		status, err := q.GetStatus(ctx, job.ID)
		if err != nil || status == nil {
			continue
		}

		if time.Since(status.UpdatedAt) > timeout {
			q.client.SRem(ctx, AnalysisJobsProcessing, jobData)

			job.Attempts++
			if job.Attempts < 3 {
				newData, _ := json.Marshal(job)
				q.client.ZAdd(ctx, AnalysisJobsQueue, redis.Z{
					Score:  float64(time.Now().Unix()),
					Member: string(newData),
				})
			} else {
				q.client.SAdd(ctx, AnalysisJobsFailed, jobData)
			}
			cleaned++
		}
	}

	return cleaned, nil
}
