package clients

import (
	"encoding/json"
	"testing"

	"github.com/mentorpal/mentor-upload-api/task"
	"github.com/stretchr/testify/require"
)

func TestParseJobMessageUnwrapsSNSEnvelope(t *testing.T) {
	job := task.Job{
		Mentor:           "m1",
		Question:         "q1",
		Video:            "videos/m1/q1/original.mp4",
		TranscodeWebTask: &task.Entry{TaskName: task.StageTranscodeWeb, TaskID: "t1", Status: task.StatusQueued},
	}
	payload, err := json.Marshal(task.JobEnvelope{Request: job})
	require.NoError(t, err)
	envelope, err := json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": string(payload),
	})
	require.NoError(t, err)

	parsed, err := ParseJobMessage(envelope)
	require.NoError(t, err)
	require.Equal(t, "m1", parsed.Mentor)
	require.Equal(t, "q1", parsed.Question)
	require.NotNil(t, parsed.TranscodeWebTask)
	require.Equal(t, "t1", parsed.TranscodeWebTask.TaskID)
}

func TestParseJobMessageAcceptsRawDelivery(t *testing.T) {
	payload, err := json.Marshal(task.JobEnvelope{Request: task.Job{Mentor: "m1", Question: "q1"}})
	require.NoError(t, err)

	parsed, err := ParseJobMessage(payload)
	require.NoError(t, err)
	require.Equal(t, "q1", parsed.Question)
}

func TestParseJobMessageRejectsGarbage(t *testing.T) {
	_, err := ParseJobMessage([]byte("not json"))
	require.Error(t, err)

	_, err = ParseJobMessage([]byte(`{"request": {}}`))
	require.Error(t, err)
}
