package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/task"
	"github.com/stretchr/testify/require"
)

func testRunner(t *testing.T) (*Runner, *clients.StubMetadata, *clients.StubObjectStore) {
	metadata := clients.NewStubMetadata()
	store := clients.NewStubObjectStore()
	return &Runner{Metadata: metadata, Store: store, WorkRoot: t.TempDir()}, metadata, store
}

func seedJob(t *testing.T, metadata *clients.StubMetadata, store *clients.StubObjectStore, status task.Status) task.Job {
	entry := &task.Entry{TaskName: task.StageTranscodeWeb, TaskID: "web-1", Status: status}
	require.NoError(t, metadata.UploadTaskUpdate(context.Background(), clients.UploadTaskStatus{
		Mentor: "m1", Question: "q1", TaskList: []*task.Entry{entry},
	}))
	store.Objects["videos/m1/q1/original.mp4"] = []byte("original-bytes")
	return task.Job{
		Mentor: "m1", Question: "q1", Video: "videos/m1/q1/original.mp4",
		TranscodeWebTask: entry,
	}
}

func TestRunStageHappyPath(t *testing.T) {
	runner, metadata, store := testRunner(t)
	job := seedJob(t, metadata, store, task.StatusQueued)

	var gotVideo string
	err := runner.RunStage(context.Background(), job, task.StageTranscodeWeb, func(ctx context.Context, sc StageContext) (StageResult, error) {
		data, readErr := os.ReadFile(sc.LocalVideo)
		require.NoError(t, readErr)
		gotVideo = string(data)

		out := filepath.Join(sc.WorkDir, "web.mp4")
		require.NoError(t, os.WriteFile(out, []byte("web-bytes"), 0644))
		key := clients.WebVideoKey(sc.Job.Mentor, sc.Job.Question)
		require.NoError(t, store.PutFile(ctx, key, out, "video/mp4"))
		webMedia := task.Media{Type: task.MediaTypeVideo, Tag: task.TagWeb, URL: key}
		return StageResult{
			Media: []task.Media{webMedia},
			Patch: &clients.MediaPatch{WebMedia: &webMedia},
		}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "original-bytes", gotVideo)

	// status ran IN_PROGRESS then DONE with the produced media
	require.Len(t, metadata.TaskStatusUpdates, 2)
	require.Equal(t, task.StatusInProgress, metadata.TaskStatusUpdates[0].NewStatus)
	require.Equal(t, task.StatusDone, metadata.TaskStatusUpdates[1].NewStatus)
	require.Len(t, metadata.TaskStatusUpdates[1].Media, 1)

	// the answer media patch is scoped to the mentor/question of the job
	require.Len(t, metadata.MediaPatches, 1)
	require.Equal(t, "m1", metadata.MediaPatches[0].Mentor)
	require.NotNil(t, metadata.MediaPatches[0].WebMedia)
}

func TestRunStageSkipsWhenNotRequested(t *testing.T) {
	runner, metadata, _ := testRunner(t)
	err := runner.RunStage(context.Background(), task.Job{Mentor: "m1", Question: "q1"}, task.StageTranscodeWeb,
		func(ctx context.Context, sc StageContext) (StageResult, error) {
			t.Fatal("stage fn must not run")
			return StageResult{}, nil
		})
	require.NoError(t, err)
	require.Empty(t, metadata.TaskStatusUpdates)
}

func TestRunStageSkipsStaleTask(t *testing.T) {
	runner, metadata, store := testRunner(t)
	job := seedJob(t, metadata, store, task.StatusQueued)
	// a newer ingestion replaced the record
	require.NoError(t, metadata.UploadTaskUpdate(context.Background(), clients.UploadTaskStatus{
		Mentor: "m1", Question: "q1",
		TaskList: []*task.Entry{{TaskName: task.StageTranscodeWeb, TaskID: "web-2", Status: task.StatusQueued}},
	}))

	err := runner.RunStage(context.Background(), job, task.StageTranscodeWeb,
		func(ctx context.Context, sc StageContext) (StageResult, error) {
			t.Fatal("stage fn must not run")
			return StageResult{}, nil
		})
	require.NoError(t, err)
	require.Empty(t, metadata.TaskStatusUpdates)
}

func TestRunStageHonorsCancellation(t *testing.T) {
	runner, metadata, store := testRunner(t)
	job := seedJob(t, metadata, store, task.StatusCancelling)

	err := runner.RunStage(context.Background(), job, task.StageTranscodeWeb,
		func(ctx context.Context, sc StageContext) (StageResult, error) {
			t.Fatal("stage fn must not run")
			return StageResult{}, nil
		})
	require.NoError(t, err)
	require.Len(t, metadata.TaskStatusUpdates, 1)
	require.Equal(t, task.StatusCancelled, metadata.TaskStatusUpdates[0].NewStatus)
}

func TestRunStageCancelLandingMidWork(t *testing.T) {
	runner, metadata, store := testRunner(t)
	job := seedJob(t, metadata, store, task.StatusQueued)

	err := runner.RunStage(context.Background(), job, task.StageTranscodeWeb,
		func(ctx context.Context, sc StageContext) (StageResult, error) {
			// a cancel request lands while the stage is busy
			require.NoError(t, metadata.UpdateTaskStatus(ctx, clients.TaskStatusUpdate{
				Mentor: "m1", Question: "q1", TaskID: "web-1", NewStatus: task.StatusCancelling,
			}))
			return StageResult{}, nil
		})
	require.NoError(t, err)

	// the result is discarded, the entry finishes CANCELLED, never DONE
	upload, _ := metadata.FetchUploadTask(context.Background(), "m1", "q1")
	require.Equal(t, task.StatusCancelled, upload.EntryByID("web-1").Status)
	for _, update := range metadata.TaskStatusUpdates {
		require.NotEqual(t, task.StatusDone, update.NewStatus)
	}
}

func TestRunStageRecordsFailure(t *testing.T) {
	runner, metadata, store := testRunner(t)
	job := seedJob(t, metadata, store, task.StatusQueued)

	err := runner.RunStage(context.Background(), job, task.StageTranscodeWeb,
		func(ctx context.Context, sc StageContext) (StageResult, error) {
			return StageResult{}, fmt.Errorf("encode blew up")
		})
	require.Error(t, err)
	require.Len(t, metadata.TaskStatusUpdates, 2)
	require.Equal(t, task.StatusInProgress, metadata.TaskStatusUpdates[0].NewStatus)
	require.Equal(t, task.StatusFailed, metadata.TaskStatusUpdates[1].NewStatus)
}

func TestRunStageCleansWorkDir(t *testing.T) {
	runner, metadata, store := testRunner(t)
	job := seedJob(t, metadata, store, task.StatusQueued)

	var workDir string
	err := runner.RunStage(context.Background(), job, task.StageTranscodeWeb,
		func(ctx context.Context, sc StageContext) (StageResult, error) {
			workDir = sc.WorkDir
			return StageResult{}, nil
		})
	require.NoError(t, err)
	_, statErr := os.Stat(workDir)
	require.True(t, os.IsNotExist(statErr))
}

func TestTrimUploadStageTrimsPublishedMedia(t *testing.T) {
	runner, metadata, store := testRunner(t)
	entry := &task.Entry{TaskName: task.StageTrimUpload, TaskID: "trim-1", Status: task.StatusQueued}
	require.NoError(t, metadata.UploadTaskUpdate(context.Background(), clients.UploadTaskStatus{
		Mentor: "m1", Question: "q1", TaskList: []*task.Entry{entry},
	}))
	key := "m1/q1"
	metadata.Answers[key] = &clients.Answer{
		Media: []task.Media{
			{Type: task.MediaTypeSubtitles, Tag: task.TagEnglish, URL: "videos/m1/q1/en.vtt"},
		},
	}
	metadata.Transcripts[key] = "a b c"
	store.Objects["videos/m1/q1/en.vtt"] = []byte(
		"WEBVTT FILE:\n\n00:00:00.000 --> 00:00:05.000\na\n\n00:00:05.000 --> 00:00:10.000\nb\n\n00:00:10.000 --> 00:00:15.000\nc\n\n")

	job := task.Job{
		Mentor: "m1", Question: "q1",
		TrimUploadTask: entry,
		Trim:           &task.Trim{Start: 5, End: 10},
	}
	err := runner.RunStage(context.Background(), job, task.StageTrimUpload, runner.TrimUploadStage)
	require.NoError(t, err)

	// subtitles were restricted to the window and the transcript rebuilt
	require.Contains(t, string(store.Objects["videos/m1/q1/en.vtt"]), "b")
	require.NotContains(t, string(store.Objects["videos/m1/q1/en.vtt"]), "\na\n")
	require.Len(t, metadata.AnswerUpdates, 1)
	require.Equal(t, "b", metadata.AnswerUpdates[0].Transcript)

	final := metadata.TaskStatusUpdates[len(metadata.TaskStatusUpdates)-1]
	require.Equal(t, task.StatusDone, final.NewStatus)
}

func TestTrimUploadStageLeavesEditedTranscripts(t *testing.T) {
	runner, metadata, store := testRunner(t)
	entry := &task.Entry{TaskName: task.StageTrimUpload, TaskID: "trim-1", Status: task.StatusQueued}
	require.NoError(t, metadata.UploadTaskUpdate(context.Background(), clients.UploadTaskStatus{
		Mentor: "m1", Question: "q1", TaskList: []*task.Entry{entry},
	}))
	key := "m1/q1"
	metadata.Answers[key] = &clients.Answer{
		Media: []task.Media{
			{Type: task.MediaTypeVideo, Tag: task.TagWeb, URL: "videos/m1/q1/web.mp4"},
			{Type: task.MediaTypeSubtitles, Tag: task.TagEnglish, URL: "videos/m1/q1/en.vtt"},
		},
	}
	metadata.HasEdited[key] = true
	store.Objects["videos/m1/q1/web.mp4"] = []byte("web-bytes")
	vttBefore := "WEBVTT FILE:\n\n00:00:00.000 --> 00:00:05.000\nedited words\n\n"
	store.Objects["videos/m1/q1/en.vtt"] = []byte(vttBefore)

	job := task.Job{
		Mentor: "m1", Question: "q1",
		TrimUploadTask: entry,
		Trim:           &task.Trim{Start: 1, End: 3},
	}
	// the web rendition needs a real ffmpeg run, so the stage fails there,
	// but it must not have rewritten the subtitles first
	_ = runner.RunStage(context.Background(), job, task.StageTrimUpload, runner.TrimUploadStage)
	require.Equal(t, vttBefore, string(store.Objects["videos/m1/q1/en.vtt"]))
	require.Empty(t, metadata.AnswerUpdates)
}
