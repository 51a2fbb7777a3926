package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/task"
	"github.com/stretchr/testify/require"
)

func TestSubtitleTrackPrefersServiceCues(t *testing.T) {
	serviceDoc := "WEBVTT\n\n00:00:00.500 --> 00:00:01.750\nhello there\n"
	vttFile := filepath.Join(t.TempDir(), "en.vtt")

	doc, err := subtitleTrack(context.Background(), clients.TranscribeResult{
		Transcript: "hello there",
		Subtitles:  serviceDoc,
	}, "unused.mp4", vttFile)
	require.NoError(t, err)

	// the service's cue timings are kept verbatim, not re-synthesized
	require.Equal(t, serviceDoc, doc)
	written, err := os.ReadFile(vttFile)
	require.NoError(t, err)
	require.Equal(t, serviceDoc, string(written))
}

func TestTranscribeStageSkipsIdleQuestion(t *testing.T) {
	runner, metadata, store := testRunner(t)
	entry := &task.Entry{TaskName: task.StageTranscribe, TaskID: "tr-1", Status: task.StatusQueued}
	require.NoError(t, metadata.UploadTaskUpdate(context.Background(), clients.UploadTaskStatus{
		Mentor: "m1", Question: "q-idle", TaskList: []*task.Entry{entry},
	}))
	metadata.QuestionNames["q-idle"] = "_IDLE_"
	store.Objects["videos/m1/q-idle/original.mp4"] = []byte("original-bytes")

	transcriber := &clients.StubTranscriber{Transcript: "should not be used"}
	job := task.Job{
		Mentor: "m1", Question: "q-idle",
		Video:          "videos/m1/q-idle/original.mp4",
		TranscribeTask: entry,
	}
	err := runner.RunStage(context.Background(), job, task.StageTranscribe, runner.TranscribeStage(transcriber))
	require.NoError(t, err)

	require.Zero(t, transcriber.Calls)
	require.Empty(t, metadata.AnswerUpdates)
	final := metadata.TaskStatusUpdates[len(metadata.TaskStatusUpdates)-1]
	require.Equal(t, task.StatusDone, final.NewStatus)
}
