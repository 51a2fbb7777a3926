// Package transfer moves externally hosted answer media into our own
// bucket: single-answer transfers after an import, and whole-mentor imports
// with their progress bookkeeping.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/metrics"
	"github.com/mentorpal/mentor-upload-api/task"
)

type Transferrer struct {
	Metadata clients.Metadata
	Store    clients.ObjectStore
	// Client for fetching media from the source host; a default retrying
	// client is used when nil.
	HTTPClient *http.Client
}

func (t *Transferrer) httpClient() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	t.HTTPClient = client.StandardClient()
	return t.HTTPClient
}

func mediaFileExt(m task.Media) (ext, contentType string) {
	if m.Type == task.MediaTypeSubtitles {
		return "vtt", "text/vtt"
	}
	return "mp4", "video/mp4"
}

// TransferAnswer copies every media item of an answer that still points at
// the source host into our bucket and clears its needsTransfer flag. When
// taskID is set the upload task entry tracks progress. Answers with nothing
// to transfer are a no-op.
func (t *Transferrer) TransferAnswer(ctx context.Context, mentor, question, taskID string) error {
	answer, err := t.Metadata.FetchAnswer(ctx, mentor, question)
	if err != nil {
		return fmt.Errorf("error fetching answer %s/%s: %w", mentor, question, err)
	}
	if !answer.HasUntransferredMedia {
		return nil
	}
	if taskID != "" {
		if err := t.Metadata.UpdateTaskStatus(ctx, clients.TaskStatusUpdate{
			Mentor: mentor, Question: question, TaskID: taskID,
			NewStatus: task.StatusInProgress, Transcript: answer.Transcript, Media: answer.Media,
		}); err != nil {
			return fmt.Errorf("error marking transfer in progress: %w", err)
		}
	}

	var transferErr error
	for i := range answer.Media {
		m := &answer.Media[i]
		if !m.NeedsTransfer {
			continue
		}
		if err := t.transferOne(ctx, mentor, question, m); err != nil {
			metrics.Metrics.MediaTransferCount.WithLabelValues("false").Inc()
			log.LogNoRequestID("media transfer failed", "mentor", mentor, "question", question, "tag", m.Tag, "error", err)
			transferErr = err
			continue
		}
		metrics.Metrics.MediaTransferCount.WithLabelValues("true").Inc()
	}

	if taskID != "" {
		status := task.StatusDone
		if transferErr != nil {
			status = task.StatusFailed
		}
		if err := t.Metadata.UpdateTaskStatus(ctx, clients.TaskStatusUpdate{
			Mentor: mentor, Question: question, TaskID: taskID,
			NewStatus: status, Transcript: answer.Transcript, Media: answer.Media,
		}); err != nil {
			return fmt.Errorf("error recording transfer result: %w", err)
		}
	}
	return transferErr
}

// transferOne downloads one media item, re-homes it under the answer's
// media prefix and patches the answer record to the new location.
func (t *Transferrer) transferOne(ctx context.Context, mentor, question string, m *task.Media) error {
	ext, contentType := mediaFileExt(*m)

	workDir, err := os.MkdirTemp("", "transfer-*")
	if err != nil {
		return fmt.Errorf("error creating transfer work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	local := filepath.Join(workDir, fmt.Sprintf("%s.%s", m.Tag, ext))
	if err := t.download(ctx, m.URL, local); err != nil {
		return err
	}

	key := fmt.Sprintf("%s/%s.%s", clients.AnswerPrefix(mentor, question), m.Tag, ext)
	if err := t.Store.PutFile(ctx, key, local, contentType); err != nil {
		return fmt.Errorf("error uploading transferred media: %w", err)
	}

	m.URL = key
	m.NeedsTransfer = false
	patch := clients.MediaPatch{Mentor: mentor, Question: question}
	switch {
	case m.Type == task.MediaTypeSubtitles:
		patch.VttMedia = m
	case m.Tag == task.TagMobile:
		patch.MobileMedia = m
	default:
		patch.WebMedia = m
	}
	if err := t.Metadata.MediaUpdate(ctx, patch); err != nil {
		return fmt.Errorf("error updating transferred media record: %w", err)
	}
	return nil
}

func (t *Transferrer) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating download request for %s: %w", url, err)
	}
	res, err := t.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("error downloading %s: %w", url, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("download of %s returned status %d", url, res.StatusCode)
	}
	file, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("error creating download file: %w", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, res.Body); err != nil {
		return fmt.Errorf("error saving %s: %w", url, err)
	}
	return nil
}
