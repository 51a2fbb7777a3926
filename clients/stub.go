package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mentorpal/mentor-upload-api/task"
)

// Stub implementations for tests.

type StubMetadata struct {
	mu sync.Mutex

	Answers     map[string]*Answer
	UploadTasks map[string]*task.Upload
	Transcripts map[string]string
	HasEdited   map[string]bool

	QuestionNames map[string]string

	AnswerUpdates     []AnswerUpdate
	TaskStatusUpdates []TaskStatusUpdate
	MediaPatches      []MediaPatch
	ImportTasks       []ImportTask
	ImportUpdates     []ImportTaskUpdateRequest
	Thumbnails        map[string]string
	ImportAnswers     []ImportedAnswer

	Err error
}

func NewStubMetadata() *StubMetadata {
	return &StubMetadata{
		Answers:       map[string]*Answer{},
		UploadTasks:   map[string]*task.Upload{},
		Transcripts:   map[string]string{},
		HasEdited:     map[string]bool{},
		QuestionNames: map[string]string{},
		Thumbnails:    map[string]string{},
	}
}

func answerKey(mentor, question string) string {
	return mentor + "/" + question
}

func (s *StubMetadata) FetchAnswer(ctx context.Context, mentor, question string) (*Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if a, ok := s.Answers[answerKey(mentor, question)]; ok {
		return a, nil
	}
	return &Answer{Media: []task.Media{}}, nil
}

func (s *StubMetadata) FetchAnswerTranscriptAndMedia(ctx context.Context, mentor, question string) (string, []task.Media, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", nil, false, s.Err
	}
	key := answerKey(mentor, question)
	var media []task.Media
	if a, ok := s.Answers[key]; ok {
		media = a.Media
	}
	return s.Transcripts[key], media, s.HasEdited[key], nil
}

func (s *StubMetadata) FetchQuestionName(ctx context.Context, questionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.QuestionNames[questionID], nil
}

func (s *StubMetadata) FetchUploadTask(ctx context.Context, mentor, question string) (*task.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.UploadTasks[answerKey(mentor, question)], nil
}

func (s *StubMetadata) UploadAnswer(ctx context.Context, req AnswerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.AnswerUpdates = append(s.AnswerUpdates, req)
	s.Transcripts[answerKey(req.Mentor, req.Question)] = req.Transcript
	return nil
}

func (s *StubMetadata) UploadAnswerAndTaskUpdate(ctx context.Context, answer AnswerUpdate, status UploadTaskStatus) error {
	if err := s.UploadAnswer(ctx, answer); err != nil {
		return err
	}
	return s.UploadTaskUpdate(ctx, status)
}

func (s *StubMetadata) UploadTaskUpdate(ctx context.Context, req UploadTaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.UploadTasks[answerKey(req.Mentor, req.Question)] = &task.Upload{
		Mentor:     req.Mentor,
		Question:   req.Question,
		TaskList:   req.TaskList,
		Transcript: req.Transcript,
		Media:      req.Media,
	}
	return nil
}

func (s *StubMetadata) UpdateTaskStatus(ctx context.Context, req TaskStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.TaskStatusUpdates = append(s.TaskStatusUpdates, req)
	if upload, ok := s.UploadTasks[answerKey(req.Mentor, req.Question)]; ok {
		if entry := upload.EntryByID(req.TaskID); entry != nil {
			entry.Status = req.NewStatus
		}
	}
	return nil
}

func (s *StubMetadata) MediaUpdate(ctx context.Context, req MediaPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.MediaPatches = append(s.MediaPatches, req)
	return nil
}

func (s *StubMetadata) MentorThumbnailUpdate(ctx context.Context, mentor, thumbnail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Thumbnails[mentor] = thumbnail
	return nil
}

// FetchImportTask returns the most recently created import task for the
// mentor, mirroring the upsert semantics of the real service.
func (s *StubMetadata) FetchImportTask(ctx context.Context, mentor string) (*ImportTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for i := len(s.ImportTasks) - 1; i >= 0; i-- {
		if s.ImportTasks[i].Mentor == mentor {
			found := s.ImportTasks[i]
			return &found, nil
		}
	}
	return nil, nil
}

func (s *StubMetadata) ImportTaskCreate(ctx context.Context, req ImportTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.ImportTasks = append(s.ImportTasks, req)
	return nil
}

func (s *StubMetadata) ImportTaskUpdate(ctx context.Context, req ImportTaskUpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.ImportUpdates = append(s.ImportUpdates, req)
	return nil
}

func (s *StubMetadata) MentorImport(ctx context.Context, mentor string, mentorJSON, replacedMentorDataChanges json.RawMessage) ([]ImportedAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.ImportAnswers, nil
}

var _ Metadata = (*StubMetadata)(nil)

// StubObjectStore keeps object contents in memory.
type StubObjectStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Types   map[string]string
	Deleted []string
	Err     error
}

func NewStubObjectStore() *StubObjectStore {
	return &StubObjectStore{Objects: map[string][]byte{}, Types: map[string]string{}}
}

func (s *StubObjectStore) PutFile(ctx context.Context, key, localPath, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.Objects[key] = data
	s.Types[key] = contentType
	return nil
}

func (s *StubObjectStore) GetFile(ctx context.Context, key, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	data, ok := s.Objects[key]
	if !ok {
		return fmt.Errorf("no such object %s", key)
	}
	return os.WriteFile(localPath, data, 0644)
}

func (s *StubObjectStore) DeleteMany(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, key := range keys {
		delete(s.Objects, key)
		s.Deleted = append(s.Deleted, key)
	}
	return nil
}

func (s *StubObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var keys []string
	for key := range s.Objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *StubObjectStore) URLFor(key string) string {
	return "https://static.test/" + key
}

var _ ObjectStore = (*StubObjectStore)(nil)

// StubPublisher records published jobs.
type StubPublisher struct {
	mu   sync.Mutex
	Jobs []task.Job
	Err  error
}

func (s *StubPublisher) PublishJob(ctx context.Context, job task.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Jobs = append(s.Jobs, job)
	return nil
}

func (s *StubPublisher) Published() []task.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.Job{}, s.Jobs...)
}

var _ Publisher = (*StubPublisher)(nil)

// StubTranscriber returns a fixed transcript and subtitle document.
type StubTranscriber struct {
	Transcript string
	Subtitles  string
	Err        error
	Calls      int
}

func (s *StubTranscriber) TranscribeAudio(ctx context.Context, audioPath string) (TranscribeResult, error) {
	s.Calls++
	if s.Err != nil {
		return TranscribeResult{}, s.Err
	}
	return TranscribeResult{Transcript: s.Transcript, Subtitles: s.Subtitles}, nil
}

var _ Transcriber = (*StubTranscriber)(nil)
