// Package task holds the shared model for answer-processing jobs: the
// per-stage task entries, their status state machine, and the patch shapes
// sent to the metadata service.
package task

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Status of a single task entry. Forward path is QUEUED -> IN_PROGRESS ->
// DONE; FAILED and CANCELLED are terminal from any non-terminal state, with
// CANCELLED reachable only through CANCELLING.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
	StatusCancelling Status = "CANCELLING"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Cancelled and Cancelling both count: workers bail out on either.
func (s Status) CancelRequested() bool {
	return strings.HasPrefix(string(s), "CANCEL")
}

// CanTransition reports whether moving from s to next is a legal step of the
// state machine. Statuses never regress.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusQueued:
		return next == StatusInProgress || next == StatusFailed || next == StatusCancelling || next == StatusCancelled
	case StatusInProgress:
		return next == StatusDone || next == StatusFailed || next == StatusCancelling || next == StatusCancelled
	case StatusCancelling:
		return next == StatusCancelled
	default: // terminal
		return false
	}
}

// Stage names as stored in task entries and matched by workers.
const (
	StageTrimUpload      = "trim-upload"
	StageTranscodeWeb    = "transcoding-web"
	StageTranscodeMobile = "transcoding-mobile"
	StageTranscribe      = "transcribing"
	StageFinalization    = "finalization"
)

// Entry is one row of an upload task's stage list.
type Entry struct {
	TaskName string `json:"task_name"`
	TaskID   string `json:"task_id"`
	Status   Status `json:"status"`
}

// NewEntry mints a QUEUED entry with a fresh opaque task ID. IDs are owned by
// the dispatcher; workers receive them by value.
func NewEntry(taskName string) *Entry {
	return &Entry{
		TaskName: taskName,
		TaskID:   uuid.New().String(),
		Status:   StatusQueued,
	}
}

// Media is one tagged media artifact of an answer. (type, tag) is unique
// within an answer.
type Media struct {
	Type          string `json:"type"`
	Tag           string `json:"tag"`
	URL           string `json:"url"`
	NeedsTransfer bool   `json:"needsTransfer"`
}

const (
	MediaTypeVideo     = "video"
	MediaTypeSubtitles = "subtitles"

	TagOriginal = "original"
	TagWeb      = "web"
	TagMobile   = "mobile"
	TagEnglish  = "en"
)

// Upload is the progress record for one in-flight job on an answer. There is
// at most one per (mentor, question); the next ingestion overwrites it.
type Upload struct {
	Mentor     string   `json:"mentor"`
	Question   string   `json:"question"`
	TaskList   []*Entry `json:"taskList"`
	Transcript string   `json:"transcript,omitempty"`
	Media      []Media  `json:"media,omitempty"`
}

// Entry returns the stage entry with the given name, or nil.
func (u *Upload) Entry(taskName string) *Entry {
	if u == nil {
		return nil
	}
	for _, e := range u.TaskList {
		if e.TaskName == taskName {
			return e
		}
	}
	return nil
}

// EntryByID returns the entry holding taskID, or nil.
func (u *Upload) EntryByID(taskID string) *Entry {
	if u == nil {
		return nil
	}
	for _, e := range u.TaskList {
		if e.TaskID == taskID {
			return e
		}
	}
	return nil
}

// InProgress is true while any stage has not reached a terminal status. The
// dispatcher rejects concurrent ingestions for the same answer on this.
func (u *Upload) InProgress() bool {
	if u == nil {
		return false
	}
	for _, e := range u.TaskList {
		if !e.Status.Terminal() {
			return true
		}
	}
	return false
}

// Trim is a closed-open [Start, End) interval in seconds.
type Trim struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (t *Trim) Validate() error {
	if t == nil {
		return nil
	}
	if t.Start < 0 {
		return fmt.Errorf("trim start must be >= 0, got %f", t.Start)
	}
	if t.End <= t.Start {
		return fmt.Errorf("trim end %f must be greater than start %f", t.End, t.Start)
	}
	return nil
}

// Job is the fan-out message published once per ingestion. Every stage worker
// receives a copy and filters by the presence of its own task entry.
type Job struct {
	Mentor              string `json:"mentor"`
	Question            string `json:"question"`
	Video               string `json:"video"` // object key of original.mp4
	TranscodeWebTask    *Entry `json:"transcodeWebTask"`
	TranscodeMobileTask *Entry `json:"transcodeMobileTask"`
	TrimUploadTask      *Entry `json:"trimUploadTask,omitempty"`
	TranscribeTask      *Entry `json:"transcribeTask,omitempty"`
	Trim                *Trim  `json:"trim,omitempty"`
}

// JobEnvelope matches the wire shape {"request": {...}}.
type JobEnvelope struct {
	Request Job `json:"request"`
}

// StageEntry picks the job's entry for a stage name; nil when the stage was
// not requested for this job.
func (j *Job) StageEntry(taskName string) *Entry {
	switch taskName {
	case StageTranscodeWeb:
		return j.TranscodeWebTask
	case StageTranscodeMobile:
		return j.TranscodeMobileTask
	case StageTrimUpload:
		return j.TrimUploadTask
	case StageTranscribe:
		return j.TranscribeTask
	}
	return nil
}
