// Package pipeline holds the answer-processing flows: the ingestion
// dispatcher that admits uploads and fans jobs out, and the stage handlers
// the queue workers run.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"time"

	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/metrics"
	"github.com/mentorpal/mentor-upload-api/task"
)

// StageContext is what a stage handler gets to work with: the job, a
// scratch dir that is removed when the stage ends, and the original video
// already downloaded into it.
type StageContext struct {
	Job        task.Job
	WorkDir    string
	LocalVideo string
}

// StageResult carries what a finished stage reports back: the media it
// produced (attached to the DONE status update), an optional transcript, and
// an optional role-scoped media patch for the answer record.
type StageResult struct {
	Transcript string
	Media      []task.Media
	Patch      *clients.MediaPatch
}

type StageFunc func(ctx context.Context, sc StageContext) (StageResult, error)

// Runner executes one stage of a fan-out job with the bookkeeping every
// stage shares: skip checks, cancellation, status updates and scratch dir
// lifecycle.
type Runner struct {
	Metadata clients.Metadata
	Store    clients.ObjectStore
	// Parent dir for per-stage scratch dirs; os.TempDir when empty.
	WorkRoot string
}

// RunStage drives fn through the task state machine. A nil error means the
// message can be acked; errors are returned after the FAILED status is
// recorded so the caller decides on redelivery.
func (r *Runner) RunStage(ctx context.Context, job task.Job, stageName string, fn StageFunc) error {
	entry := job.StageEntry(stageName)
	if entry == nil {
		// this job did not request the stage
		return nil
	}
	requestID := entry.TaskID
	log.AddContext(requestID, "mentor", job.Mentor, "question", job.Question, "stage", stageName)

	upload, err := r.Metadata.FetchUploadTask(ctx, job.Mentor, job.Question)
	if err != nil {
		return fmt.Errorf("error fetching upload task for %s/%s: %w", job.Mentor, job.Question, err)
	}
	current := upload.EntryByID(entry.TaskID)
	if current == nil {
		// a newer ingestion replaced the task record, this message is stale
		log.Log(requestID, "skipping stage, task entry no longer exists")
		return nil
	}
	if current.Status.CancelRequested() {
		log.Log(requestID, "skipping stage, cancellation requested")
		if current.Status == task.StatusCancelling {
			return r.Metadata.UpdateTaskStatus(ctx, clients.TaskStatusUpdate{
				Mentor: job.Mentor, Question: job.Question,
				TaskID: entry.TaskID, NewStatus: task.StatusCancelled,
			})
		}
		return nil
	}
	if current.Status.Terminal() {
		log.Log(requestID, "skipping stage, already finished", "status", current.Status)
		return nil
	}

	if err := r.Metadata.UpdateTaskStatus(ctx, clients.TaskStatusUpdate{
		Mentor: job.Mentor, Question: job.Question,
		TaskID: entry.TaskID, NewStatus: task.StatusInProgress,
	}); err != nil {
		return fmt.Errorf("error marking task %s in progress: %w", entry.TaskID, err)
	}

	start := time.Now()
	result, err := r.runInWorkDir(ctx, job, fn)
	metrics.Metrics.StageDurationSec.
		WithLabelValues(stageName, fmt.Sprint(err == nil)).
		Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Metrics.StageFailureCount.WithLabelValues(stageName).Inc()
		log.LogError(requestID, "stage failed", err)
		if statusErr := r.Metadata.UpdateTaskStatus(ctx, clients.TaskStatusUpdate{
			Mentor: job.Mentor, Question: job.Question,
			TaskID: entry.TaskID, NewStatus: task.StatusFailed,
		}); statusErr != nil {
			log.LogError(requestID, "error marking task failed", statusErr)
		}
		return err
	}

	// A cancel can land while the stage is working; re-read before writing
	// DONE so a CANCELLING set mid-work is not overwritten.
	upload, err = r.Metadata.FetchUploadTask(ctx, job.Mentor, job.Question)
	if err != nil {
		return fmt.Errorf("error re-fetching upload task for %s/%s: %w", job.Mentor, job.Question, err)
	}
	current = upload.EntryByID(entry.TaskID)
	if current == nil {
		log.Log(requestID, "discarding stage result, task entry no longer exists")
		return nil
	}
	if current.Status.CancelRequested() {
		log.Log(requestID, "discarding stage result, cancellation requested")
		if current.Status == task.StatusCancelling {
			return r.Metadata.UpdateTaskStatus(ctx, clients.TaskStatusUpdate{
				Mentor: job.Mentor, Question: job.Question,
				TaskID: entry.TaskID, NewStatus: task.StatusCancelled,
			})
		}
		return nil
	}

	if err := r.Metadata.UpdateTaskStatus(ctx, clients.TaskStatusUpdate{
		Mentor: job.Mentor, Question: job.Question,
		TaskID: entry.TaskID, NewStatus: task.StatusDone,
		Transcript: result.Transcript, Media: result.Media,
	}); err != nil {
		return fmt.Errorf("error marking task %s done: %w", entry.TaskID, err)
	}
	if result.Patch != nil {
		patch := *result.Patch
		patch.Mentor = job.Mentor
		patch.Question = job.Question
		if err := r.Metadata.MediaUpdate(ctx, patch); err != nil {
			return fmt.Errorf("error patching answer media: %w", err)
		}
	}
	log.Log(requestID, "stage complete")
	return nil
}

func (r *Runner) runInWorkDir(ctx context.Context, job task.Job, fn StageFunc) (StageResult, error) {
	workDir, err := os.MkdirTemp(r.WorkRoot, "stage-*")
	if err != nil {
		return StageResult{}, fmt.Errorf("error creating work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.LogNoRequestID("failed to delete work dir", "work_dir", workDir, "error", err)
		}
	}()

	localVideo := filepath.Join(workDir, "original.mp4")
	if job.Video != "" {
		if err := r.Store.GetFile(ctx, job.Video, localVideo); err != nil {
			return StageResult{}, fmt.Errorf("error downloading source video %s: %w", job.Video, err)
		}
	}
	return fn(ctx, StageContext{Job: job, WorkDir: workDir, LocalVideo: localVideo})
}
