package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/task"
	"github.com/stretchr/testify/require"
)

func testDispatcher(t *testing.T, durationSecs float64) (*Dispatcher, *clients.StubMetadata, *clients.StubObjectStore, *clients.StubPublisher) {
	metadata := clients.NewStubMetadata()
	store := clients.NewStubObjectStore()
	publisher := &clients.StubPublisher{}
	return &Dispatcher{
		Metadata:   metadata,
		Store:      store,
		Publisher:  publisher,
		UploadRoot: t.TempDir(),
		ProbeDuration: func(ctx context.Context, path string) float64 {
			return durationSecs
		},
	}, metadata, store, publisher
}

func scratchVideo(t *testing.T, d *Dispatcher) string {
	path, err := d.SaveScratch("m1", "q1", ".mp4", strings.NewReader("video-bytes"))
	require.NoError(t, err)
	return path
}

func TestDispatchHappyPath(t *testing.T) {
	d, metadata, store, publisher := testDispatcher(t, 12.5)
	videoFile := scratchVideo(t, d)

	res, err := d.Dispatch(context.Background(), IngestRequest{
		Mentor: "m1", Question: "q1", VideoFile: videoFile, BaseURL: "http://api.test",
	})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range res.TaskList {
		names[e.TaskName] = true
		require.NotEmpty(t, e.TaskID)
	}
	require.True(t, names[task.StageTranscodeWeb])
	require.True(t, names[task.StageTranscodeMobile])
	require.True(t, names[task.StageTranscribe])
	require.False(t, names[task.StageTrimUpload])
	require.Equal(t, "http://api.test/upload/answer/status/m1/q1", res.StatusURL)

	// original landed in the store, stale renditions were cleared first
	require.Contains(t, store.Objects, "videos/m1/q1/original.mp4")
	require.Equal(t, "video/mp4", store.Types["videos/m1/q1/original.mp4"])
	require.Contains(t, store.Deleted, "videos/m1/q1/web.mp4")
	require.Contains(t, store.Deleted, "videos/m1/q1/en.vtt")

	// the task record was seeded before the fan-out
	upload, err := metadata.FetchUploadTask(context.Background(), "m1", "q1")
	require.NoError(t, err)
	require.NotNil(t, upload)
	require.True(t, upload.InProgress())

	jobs := publisher.Published()
	require.Len(t, jobs, 1)
	require.Equal(t, "videos/m1/q1/original.mp4", jobs[0].Video)
	require.NotNil(t, jobs[0].TranscodeWebTask)
	require.NotNil(t, jobs[0].TranscribeTask)
	require.Nil(t, jobs[0].TrimUploadTask)

	// scratch file is cleaned up
	_, statErr := os.Stat(videoFile)
	require.True(t, os.IsNotExist(statErr))
}

func TestDispatchResetsPreviousTranscript(t *testing.T) {
	d, metadata, _, _ := testDispatcher(t, 5)
	metadata.Transcripts["m1/q1"] = "stale words from the previous take"
	videoFile := scratchVideo(t, d)

	_, err := d.Dispatch(context.Background(), IngestRequest{
		Mentor: "m1", Question: "q1", VideoFile: videoFile,
	})
	require.NoError(t, err)

	// the answer record is reset alongside the task seed, so a re-record of
	// an idle question never keeps the old take's transcript
	transcript, _, _, err := metadata.FetchAnswerTranscriptAndMedia(context.Background(), "m1", "q1")
	require.NoError(t, err)
	require.Equal(t, "", transcript)

	require.Len(t, metadata.AnswerUpdates, 1)
	require.Equal(t, "", metadata.AnswerUpdates[0].Transcript)
	require.Equal(t, []task.Media{
		{Type: task.MediaTypeVideo, Tag: task.TagOriginal, URL: "videos/m1/q1/original.mp4"},
	}, metadata.AnswerUpdates[0].Media)
}

func TestDispatchEditedTranscriptSkipsTranscribe(t *testing.T) {
	d, _, _, publisher := testDispatcher(t, 5)
	videoFile := scratchVideo(t, d)

	res, err := d.Dispatch(context.Background(), IngestRequest{
		Mentor: "m1", Question: "q1", VideoFile: videoFile, HasEditedTranscript: true,
	})
	require.NoError(t, err)
	for _, e := range res.TaskList {
		require.NotEqual(t, task.StageTranscribe, e.TaskName)
	}
	require.Nil(t, publisher.Published()[0].TranscribeTask)
}

func TestDispatchRejectsConcurrentUpload(t *testing.T) {
	d, metadata, _, _ := testDispatcher(t, 5)
	require.NoError(t, metadata.UploadTaskUpdate(context.Background(), clients.UploadTaskStatus{
		Mentor: "m1", Question: "q1",
		TaskList: []*task.Entry{{TaskName: task.StageTranscodeWeb, TaskID: "t1", Status: task.StatusInProgress}},
	}))
	videoFile := scratchVideo(t, d)

	_, err := d.Dispatch(context.Background(), IngestRequest{
		Mentor: "m1", Question: "q1", VideoFile: videoFile,
	})
	require.ErrorIs(t, err, ErrUploadInProgress)
}

func TestDispatchAdmitsAfterFinishedUpload(t *testing.T) {
	d, metadata, _, _ := testDispatcher(t, 5)
	require.NoError(t, metadata.UploadTaskUpdate(context.Background(), clients.UploadTaskStatus{
		Mentor: "m1", Question: "q1",
		TaskList: []*task.Entry{{TaskName: task.StageTranscodeWeb, TaskID: "t1", Status: task.StatusDone}},
	}))
	videoFile := scratchVideo(t, d)

	_, err := d.Dispatch(context.Background(), IngestRequest{
		Mentor: "m1", Question: "q1", VideoFile: videoFile,
	})
	require.NoError(t, err)
}

func TestDispatchRejectsShortOrBrokenVideo(t *testing.T) {
	d, _, _, _ := testDispatcher(t, 0.5)
	videoFile := scratchVideo(t, d)
	_, err := d.Dispatch(context.Background(), IngestRequest{Mentor: "m1", Question: "q1", VideoFile: videoFile})
	require.ErrorIs(t, err, ErrVideoTooShort)

	d2, _, _, _ := testDispatcher(t, -1)
	videoFile2 := scratchVideo(t, d2)
	_, err = d2.Dispatch(context.Background(), IngestRequest{Mentor: "m1", Question: "q1", VideoFile: videoFile2})
	require.ErrorIs(t, err, ErrNoVideoTrack)
}

func TestTrimExistingUploadPublishesTrimJob(t *testing.T) {
	d, metadata, _, publisher := testDispatcher(t, 5)

	res, err := d.TrimExistingUpload(context.Background(), "m1", "q1", task.Trim{Start: 2, End: 8}, "")
	require.NoError(t, err)
	require.Len(t, res.TaskList, 1)
	require.Equal(t, task.StageTrimUpload, res.TaskList[0].TaskName)

	jobs := publisher.Published()
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].TrimUploadTask)
	require.NotNil(t, jobs[0].Trim)
	require.Equal(t, "", jobs[0].Video)

	upload, err := metadata.FetchUploadTask(context.Background(), "m1", "q1")
	require.NoError(t, err)
	require.True(t, upload.InProgress())
}

func TestTrimExistingUploadValidatesWindow(t *testing.T) {
	d, _, _, _ := testDispatcher(t, 5)
	_, err := d.TrimExistingUpload(context.Background(), "m1", "q1", task.Trim{Start: 8, End: 2}, "")
	require.Error(t, err)
}

func TestCancelTasksOnlyTouchesRunnable(t *testing.T) {
	d, metadata, _, _ := testDispatcher(t, 5)
	require.NoError(t, metadata.UploadTaskUpdate(context.Background(), clients.UploadTaskStatus{
		Mentor: "m1", Question: "q1",
		TaskList: []*task.Entry{
			{TaskName: task.StageTranscodeWeb, TaskID: "t1", Status: task.StatusQueued},
			{TaskName: task.StageTranscodeMobile, TaskID: "t2", Status: task.StatusDone},
			{TaskName: task.StageTranscribe, TaskID: "t3", Status: task.StatusInProgress},
		},
	}))

	cancelled, err := d.CancelTasks(context.Background(), "m1", "q1", []string{"t1", "t2", "t3", "unknown"})
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t3"}, cancelled)

	upload, _ := metadata.FetchUploadTask(context.Background(), "m1", "q1")
	require.Equal(t, task.StatusCancelling, upload.EntryByID("t1").Status)
	require.Equal(t, task.StatusDone, upload.EntryByID("t2").Status)
}

func TestRegenerateVTTNothingToDo(t *testing.T) {
	d, _, _, _ := testDispatcher(t, 5)
	regenerated, err := d.RegenerateVTT(context.Background(), "m1", "q1")
	require.NoError(t, err)
	require.False(t, regenerated)
}

func TestRegenerateVTTFromStoredTranscript(t *testing.T) {
	d, metadata, store, _ := testDispatcher(t, 10)
	key := "m1/q1"
	metadata.Transcripts[key] = "hello world"
	metadata.Answers[key] = &clients.Answer{
		Media: []task.Media{{Type: task.MediaTypeVideo, Tag: task.TagWeb, URL: "videos/m1/q1/web.mp4"}},
	}
	store.Objects["videos/m1/q1/web.mp4"] = []byte("web-bytes")

	regenerated, err := d.RegenerateVTT(context.Background(), "m1", "q1")
	require.NoError(t, err)
	require.True(t, regenerated)
	require.Contains(t, store.Objects, "videos/m1/q1/en.vtt")
	require.Contains(t, string(store.Objects["videos/m1/q1/en.vtt"]), "WEBVTT FILE:")

	require.Len(t, metadata.MediaPatches, 1)
	require.NotNil(t, metadata.MediaPatches[0].VttMedia)
	require.Equal(t, "videos/m1/q1/en.vtt", metadata.MediaPatches[0].VttMedia.URL)
}

func TestStatusURLForceHTTPS(t *testing.T) {
	d := &Dispatcher{StatusURLForceHTTPS: true}
	require.Equal(t, "https://api.test/upload/answer/status/m1/q1", d.statusURL("http://api.test", "m1", "q1"))

	d.StatusURLForceHTTPS = false
	require.Equal(t, "http://api.test/upload/answer/status/m1/q1", d.statusURL("http://api.test", "m1", "q1"))
	require.Equal(t, "/upload/answer/status/m1/q1", d.statusURL("", "m1", "q1"))
}

func TestSaveScratchNameShape(t *testing.T) {
	d, _, _, _ := testDispatcher(t, 5)
	path, err := d.SaveScratch("m1", "q1", ".mp4", strings.NewReader("x"))
	require.NoError(t, err)
	base := filepath.Base(path)
	require.True(t, strings.HasSuffix(base, "-m1-q1.mp4"), base)
}
