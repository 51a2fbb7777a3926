package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mentorpal/mentor-upload-api/task"
	"github.com/stretchr/testify/require"
)

func TestMetadataClientSendsAuthHeaders(t *testing.T) {
	var gotHeaders http.Header
	var gotBody gqlRequest
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"data": {"question": {"name": "What is your name?"}}}`))
	}))
	defer svr.Close()

	client := NewMetadataClient(svr.URL, "sec-ret")
	name, err := client.FetchQuestionName(context.Background(), "q-123")
	require.NoError(t, err)
	require.Equal(t, "What is your name?", name)

	require.Equal(t, "true", gotHeaders.Get("mentor-graphql-req"))
	require.Equal(t, "bearer sec-ret", gotHeaders.Get("Authorization"))
	require.Equal(t, "q-123", gotBody.Variables["id"])
}

func TestMetadataClientRejectsGraphQLErrors(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": null, "errors": [{"message": "mentor not found"}]}`))
	}))
	defer svr.Close()

	client := NewMetadataClient(svr.URL, "secret")
	err := client.UploadAnswer(context.Background(), AnswerUpdate{Mentor: "m1", Question: "q1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "mentor not found")
}

func TestMetadataClientValidatesAnswerShape(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// media missing -> schema rejects
		_, _ = w.Write([]byte(`{"data": {"answer": {"transcript": "hi"}}}`))
	}))
	defer svr.Close()

	client := NewMetadataClient(svr.URL, "secret")
	_, err := client.FetchAnswer(context.Background(), "m1", "q1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "validation")
}

func TestMetadataClientFetchAnswer(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"answer": {
			"transcript": "hello",
			"hasUntransferredMedia": true,
			"media": [{"type": "video", "tag": "web", "url": "videos/m1/q1/web.mp4", "needsTransfer": true}]
		}}}`))
	}))
	defer svr.Close()

	client := NewMetadataClient(svr.URL, "secret")
	answer, err := client.FetchAnswer(context.Background(), "m1", "q1")
	require.NoError(t, err)
	require.Equal(t, "hello", answer.Transcript)
	require.True(t, answer.HasUntransferredMedia)
	require.Len(t, answer.Media, 1)
	require.Equal(t, task.TagWeb, answer.Media[0].Tag)
}

func TestMetadataClientFetchUploadTaskAbsent(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"uploadTask": null}}`))
	}))
	defer svr.Close()

	client := NewMetadataClient(svr.URL, "secret")
	upload, err := client.FetchUploadTask(context.Background(), "m1", "q1")
	require.NoError(t, err)
	require.Nil(t, upload)
}

func TestMetadataClientUpdateTaskStatusOmitsEmptyFields(t *testing.T) {
	var gotBody gqlRequest
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"data": {"api": {"uploadTaskStatusUpdate": true}}}`))
	}))
	defer svr.Close()

	client := NewMetadataClient(svr.URL, "secret")
	err := client.UpdateTaskStatus(context.Background(), TaskStatusUpdate{
		Mentor: "m1", Question: "q1", TaskID: "t1", NewStatus: task.StatusInProgress,
	})
	require.NoError(t, err)
	require.Equal(t, "IN_PROGRESS", gotBody.Variables["newStatus"])
	require.NotContains(t, gotBody.Variables, "transcript")
	require.NotContains(t, gotBody.Variables, "media")
}

func TestMetadataClientUploadAnswerAndTaskUpdate(t *testing.T) {
	var gotBody gqlRequest
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"data": {"api": {"uploadAnswer": true, "uploadTaskUpdate": true}}}`))
	}))
	defer svr.Close()

	client := NewMetadataClient(svr.URL, "secret")
	err := client.UploadAnswerAndTaskUpdate(context.Background(),
		AnswerUpdate{Mentor: "m1", Question: "q1", Transcript: ""},
		UploadTaskStatus{
			Mentor: "m1", Question: "q1",
			TaskList: []*task.Entry{{TaskName: task.StageTranscodeWeb, TaskID: "t1", Status: task.StatusQueued}},
		})
	require.NoError(t, err)

	// both operations ride one mutation, with the transcript reset sent even
	// when empty
	require.Contains(t, gotBody.Query, "uploadAnswer(")
	require.Contains(t, gotBody.Query, "uploadTaskUpdate(")
	answer := gotBody.Variables["answer"].(map[string]interface{})
	require.Equal(t, "", answer["transcript"])
	require.Contains(t, gotBody.Variables, "status")
}

func TestMetadataClientNon2xxStatus(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer svr.Close()

	client := NewMetadataClient(svr.URL, "secret")
	err := client.MentorThumbnailUpdate(context.Background(), "m1", "mentor/thumbnails/m1/x/thumbnail.png")
	require.Error(t, err)
}
