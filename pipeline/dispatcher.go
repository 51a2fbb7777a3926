package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/media"
	"github.com/mentorpal/mentor-upload-api/task"
)

var (
	ErrUploadInProgress = stderrors.New("there is an upload already in progress, please wait")
	ErrVideoTooShort    = stderrors.New("video too short, must be at least 1 second")
	ErrNoVideoTrack     = stderrors.New("file has no playable video track")
)

// Dispatcher admits answer uploads, stores the original video and fans the
// processing job out to the stage workers.
type Dispatcher struct {
	Metadata  clients.Metadata
	Store     clients.ObjectStore
	Publisher clients.Publisher
	// Scratch dir uploaded files are spooled to before reaching S3.
	UploadRoot string
	// Force https on generated status URLs, for deployments behind a
	// TLS-terminating proxy.
	StatusURLForceHTTPS bool
	// Overrides duration probing in tests.
	ProbeDuration func(ctx context.Context, path string) float64
}

func (d *Dispatcher) probeDuration(ctx context.Context, path string) float64 {
	if d.ProbeDuration != nil {
		return d.ProbeDuration(ctx, path)
	}
	return media.Duration(ctx, path)
}

type IngestRequest struct {
	Mentor              string
	Question            string
	VideoFile           string // local scratch path of the uploaded video
	Trim                *task.Trim
	HasEditedTranscript bool
	// Scheme+host of the incoming request, for the status URL.
	BaseURL string
}

type IngestResponse struct {
	TaskList  []*task.Entry `json:"taskList"`
	StatusURL string        `json:"statusUrl"`
}

// SaveScratch spools an uploaded video into the scratch dir under a
// collision-free name and returns its path.
func (d *Dispatcher) SaveScratch(mentor, question, ext string, src io.Reader) (string, error) {
	if err := os.MkdirAll(d.UploadRoot, 0755); err != nil {
		return "", fmt.Errorf("error creating upload dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s%s", uuid.New().String(), mentor, question, ext)
	dst := filepath.Join(d.UploadRoot, name)
	file, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("error creating scratch file: %w", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, src); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("error writing scratch file: %w", err)
	}
	return dst, nil
}

// Dispatch runs the ingestion flow: admission check, duration check,
// optional trim, atomic media replacement, task minting, seeding the task
// record and publishing the fan-out job. The scratch file is removed on the
// way out.
func (d *Dispatcher) Dispatch(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	defer func() {
		if err := os.Remove(req.VideoFile); err != nil && !os.IsNotExist(err) {
			log.LogNoRequestID("failed to delete scratch file", "file", req.VideoFile, "error", err)
		}
	}()

	existing, err := d.Metadata.FetchUploadTask(ctx, req.Mentor, req.Question)
	if err != nil {
		return nil, fmt.Errorf("error checking for in-flight upload: %w", err)
	}
	if existing.InProgress() {
		return nil, ErrUploadInProgress
	}

	duration := d.probeDuration(ctx, req.VideoFile)
	if duration < 0 {
		return nil, ErrNoVideoTrack
	}
	if duration < 1 {
		return nil, ErrVideoTooShort
	}

	taskList := []*task.Entry{
		task.NewEntry(task.StageTranscodeWeb),
		task.NewEntry(task.StageTranscodeMobile),
	}
	if req.Trim != nil {
		// The trim is cheap relative to the transcodes and every later stage
		// depends on its output, so it runs here rather than on a worker.
		trimEntry := task.NewEntry(task.StageTrimUpload)
		trimmed := req.VideoFile + ".trim.mp4"
		if err := media.Trim(req.VideoFile, trimmed, req.Trim.Start, req.Trim.End); err != nil {
			return nil, err
		}
		if err := os.Rename(trimmed, req.VideoFile); err != nil {
			return nil, fmt.Errorf("error replacing scratch file with trim: %w", err)
		}
		trimEntry.Status = task.StatusDone
		taskList = append(taskList, trimEntry)
	}
	if !req.HasEditedTranscript {
		taskList = append(taskList, task.NewEntry(task.StageTranscribe))
	}

	originalKey := clients.OriginalVideoKey(req.Mentor, req.Question)
	// Replace the whole media set before the new original lands so stale
	// renditions of the previous take never outlive it.
	staleKeys := []string{
		originalKey,
		clients.WebVideoKey(req.Mentor, req.Question),
		clients.MobileVideoKey(req.Mentor, req.Question),
		clients.SubtitleKey(req.Mentor, req.Question),
	}
	if err := d.Store.DeleteMany(ctx, staleKeys); err != nil {
		return nil, fmt.Errorf("error clearing previous media: %w", err)
	}
	if err := d.Store.PutFile(ctx, originalKey, req.VideoFile, "video/mp4"); err != nil {
		return nil, fmt.Errorf("error storing original video: %w", err)
	}

	originalMedia := task.Media{Type: task.MediaTypeVideo, Tag: task.TagOriginal, URL: originalKey}
	// A new recording invalidates the previous take's transcript; the answer
	// reset and the task seed go out in one mutation.
	if err := d.Metadata.UploadAnswerAndTaskUpdate(ctx,
		clients.AnswerUpdate{
			Mentor:     req.Mentor,
			Question:   req.Question,
			Transcript: "",
			Media:      []task.Media{originalMedia},
		},
		clients.UploadTaskStatus{
			Mentor:   req.Mentor,
			Question: req.Question,
			TaskList: taskList,
			Media:    []task.Media{originalMedia},
		},
	); err != nil {
		return nil, fmt.Errorf("error seeding upload task record: %w", err)
	}

	job := task.Job{
		Mentor:   req.Mentor,
		Question: req.Question,
		Video:    originalKey,
	}
	for _, entry := range taskList {
		switch entry.TaskName {
		case task.StageTranscodeWeb:
			job.TranscodeWebTask = entry
		case task.StageTranscodeMobile:
			job.TranscodeMobileTask = entry
		case task.StageTranscribe:
			job.TranscribeTask = entry
		}
	}
	if err := d.Publisher.PublishJob(ctx, job); err != nil {
		return nil, fmt.Errorf("error publishing upload job: %w", err)
	}

	return &IngestResponse{
		TaskList:  taskList,
		StatusURL: d.statusURL(req.BaseURL, req.Mentor, req.Question),
	}, nil
}

// TrimExistingUpload schedules a re-cut of an already published answer.
func (d *Dispatcher) TrimExistingUpload(ctx context.Context, mentor, question string, trim task.Trim, baseURL string) (*IngestResponse, error) {
	if err := trim.Validate(); err != nil {
		return nil, err
	}
	existing, err := d.Metadata.FetchUploadTask(ctx, mentor, question)
	if err != nil {
		return nil, fmt.Errorf("error checking for in-flight upload: %w", err)
	}
	if existing.InProgress() {
		return nil, ErrUploadInProgress
	}

	entry := task.NewEntry(task.StageTrimUpload)
	taskList := []*task.Entry{entry}
	if err := d.Metadata.UploadTaskUpdate(ctx, clients.UploadTaskStatus{
		Mentor: mentor, Question: question, TaskList: taskList,
	}); err != nil {
		return nil, fmt.Errorf("error seeding trim task record: %w", err)
	}

	if err := d.Publisher.PublishJob(ctx, task.Job{
		Mentor:         mentor,
		Question:       question,
		TrimUploadTask: entry,
		Trim:           &trim,
	}); err != nil {
		return nil, fmt.Errorf("error publishing trim job: %w", err)
	}
	return &IngestResponse{
		TaskList:  taskList,
		StatusURL: d.statusURL(baseURL, mentor, question),
	}, nil
}

// CancelTasks requests cancellation of the given task entries. Entries that
// already finished are left alone; the cancelled IDs are returned.
func (d *Dispatcher) CancelTasks(ctx context.Context, mentor, question string, taskIDs []string) ([]string, error) {
	upload, err := d.Metadata.FetchUploadTask(ctx, mentor, question)
	if err != nil {
		return nil, fmt.Errorf("error fetching upload task: %w", err)
	}
	var cancelled []string
	for _, id := range taskIDs {
		entry := upload.EntryByID(id)
		if entry == nil || entry.Status.Terminal() || entry.Status.CancelRequested() {
			continue
		}
		if err := d.Metadata.UpdateTaskStatus(ctx, clients.TaskStatusUpdate{
			Mentor: mentor, Question: question, TaskID: id, NewStatus: task.StatusCancelling,
		}); err != nil {
			return cancelled, fmt.Errorf("error cancelling task %s: %w", id, err)
		}
		cancelled = append(cancelled, id)
	}
	return cancelled, nil
}

// RegenerateVTT rebuilds the en.vtt subtitle track from the stored
// transcript. Returns false, without error, when the answer has nothing to
// regenerate from.
func (d *Dispatcher) RegenerateVTT(ctx context.Context, mentor, question string) (bool, error) {
	transcript, answerMedia, _, err := d.Metadata.FetchAnswerTranscriptAndMedia(ctx, mentor, question)
	if err != nil {
		return false, fmt.Errorf("error fetching answer: %w", err)
	}
	var videoKey string
	for _, m := range answerMedia {
		if m.Type == task.MediaTypeVideo && m.Tag == task.TagWeb {
			videoKey = m.URL
			break
		}
	}
	if transcript == "" || videoKey == "" {
		return false, nil
	}

	workDir, err := os.MkdirTemp("", "regen-vtt-*")
	if err != nil {
		return false, fmt.Errorf("error creating work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	localVideo := filepath.Join(workDir, "web.mp4")
	if err := d.Store.GetFile(ctx, videoKey, localVideo); err != nil {
		return false, fmt.Errorf("error downloading video for vtt: %w", err)
	}
	duration := d.probeDuration(ctx, localVideo)
	vttFile := filepath.Join(workDir, "en.vtt")
	doc, err := media.WriteVTT(transcript, duration, vttFile)
	if err != nil {
		return false, err
	}
	if doc == "" {
		return false, nil
	}

	key := clients.SubtitleKey(mentor, question)
	if err := d.Store.PutFile(ctx, key, vttFile, "text/vtt"); err != nil {
		return false, fmt.Errorf("error uploading subtitles: %w", err)
	}
	vttMedia := task.Media{Type: task.MediaTypeSubtitles, Tag: task.TagEnglish, URL: key}
	if err := d.Metadata.MediaUpdate(ctx, clients.MediaPatch{
		Mentor: mentor, Question: question, VttMedia: &vttMedia,
	}); err != nil {
		return false, fmt.Errorf("error patching subtitle media: %w", err)
	}
	return true, nil
}

func (d *Dispatcher) statusURL(baseURL, mentor, question string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("/upload/answer/status/%s/%s", mentor, question)
	}
	if d.StatusURLForceHTTPS {
		u.Scheme = "https"
	}
	u.Path = fmt.Sprintf("/upload/answer/status/%s/%s", mentor, question)
	return u.String()
}
