package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/metrics"
	"github.com/mentorpal/mentor-upload-api/task"
	"github.com/xeipuuv/gojsonschema"
)

// Metadata is the client for the mentor GraphQL service, the system of
// record for answers, upload task lists and import tasks.
type Metadata interface {
	FetchAnswer(ctx context.Context, mentor, question string) (*Answer, error)
	FetchAnswerTranscriptAndMedia(ctx context.Context, mentor, question string) (string, []task.Media, bool, error)
	FetchQuestionName(ctx context.Context, questionID string) (string, error)
	FetchUploadTask(ctx context.Context, mentor, question string) (*task.Upload, error)

	UploadAnswer(ctx context.Context, req AnswerUpdate) error
	UploadAnswerAndTaskUpdate(ctx context.Context, answer AnswerUpdate, status UploadTaskStatus) error
	UploadTaskUpdate(ctx context.Context, req UploadTaskStatus) error
	UpdateTaskStatus(ctx context.Context, req TaskStatusUpdate) error
	MediaUpdate(ctx context.Context, req MediaPatch) error
	MentorThumbnailUpdate(ctx context.Context, mentor, thumbnail string) error

	FetchImportTask(ctx context.Context, mentor string) (*ImportTask, error)
	ImportTaskCreate(ctx context.Context, req ImportTask) error
	ImportTaskUpdate(ctx context.Context, req ImportTaskUpdateRequest) error
	MentorImport(ctx context.Context, mentor string, mentorJSON, replacedMentorDataChanges json.RawMessage) ([]ImportedAnswer, error)
}

// Answer is the stored state of one mentor answer.
type Answer struct {
	Transcript            string       `json:"transcript"`
	HasUntransferredMedia bool         `json:"hasUntransferredMedia"`
	Media                 []task.Media `json:"media"`
}

// AnswerUpdate replaces an answer's transcript and media set.
type AnswerUpdate struct {
	Mentor              string
	Question            string
	Transcript          string
	Media               []task.Media
	HasEditedTranscript *bool
}

// UploadTaskStatus seeds or replaces the upload task record of an answer.
type UploadTaskStatus struct {
	Mentor     string
	Question   string
	TaskList   []*task.Entry
	Transcript string
	Media      []task.Media
}

// TaskStatusUpdate moves one task entry to a new status, optionally
// attaching the transcript or media the stage produced.
type TaskStatusUpdate struct {
	Mentor     string
	Question   string
	TaskID     string
	NewStatus  task.Status
	Transcript string
	Media      []task.Media
}

// MediaPatch updates only the role-scoped media slots of an answer. A nil
// slot is left untouched.
type MediaPatch struct {
	Mentor      string
	Question    string
	WebMedia    *task.Media
	MobileMedia *task.Media
	VttMedia    *task.Media
}

const (
	ImportStatusQueued     = "QUEUED"
	ImportStatusInProgress = "IN_PROGRESS"
	ImportStatusDone       = "DONE"
	ImportStatusFailed     = "FAILED"
)

// AnswerMediaMigration tracks the media copy of a single imported answer.
type AnswerMediaMigration struct {
	Question     string `json:"question"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type GraphQLUpdate struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type S3VideoMigration struct {
	Status                string                 `json:"status"`
	AnswerMediaMigrations []AnswerMediaMigration `json:"answerMediaMigrations"`
}

// ImportTask is the progress record of a whole-mentor import.
type ImportTask struct {
	Mentor           string
	GraphQLUpdate    GraphQLUpdate
	S3VideoMigration S3VideoMigration
}

// ImportTaskUpdateRequest patches one part of an import task; nil parts are
// left untouched.
type ImportTaskUpdateRequest struct {
	Mentor                   string
	GraphQLUpdate            *GraphQLUpdate
	S3VideoMigration         *S3VideoMigration
	AnswerMediaMigrateUpdate *AnswerMediaMigration
}

// ImportedAnswer is one answer returned by the mentorImport mutation, with
// the media slots that may still point at the source mentor's bucket.
type ImportedAnswer struct {
	HasUntransferredMedia bool `json:"hasUntransferredMedia"`
	Question              struct {
		ID string `json:"_id"`
	} `json:"question"`
	WebMedia    *task.Media `json:"webMedia"`
	MobileMedia *task.Media `json:"mobileMedia"`
	VttMedia    *task.Media `json:"vttMedia"`
}

// Media returns the non-nil media slots in a stable order.
func (a ImportedAnswer) MediaList() []task.Media {
	var list []task.Media
	for _, m := range []*task.Media{a.WebMedia, a.MobileMedia, a.VttMedia} {
		if m != nil {
			list = append(list, *m)
		}
	}
	return list
}

type metadataClient struct {
	endpoint  string
	apiSecret string
	client    *http.Client
}

func NewMetadataClient(endpoint, apiSecret string) Metadata {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	client.CheckRetry = metrics.HttpRetryHook
	return &metadataClient{
		endpoint:  endpoint,
		apiSecret: apiSecret,
		client:    client.StandardClient(),
	}
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type gqlResponse struct {
	Data   json.RawMessage   `json:"data"`
	Errors []json.RawMessage `json:"errors"`
}

func (c *metadataClient) post(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("error marshalling graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("mentor-graphql-req", "true")
	req.Header.Set("Authorization", "bearer "+c.apiSecret)

	res, err := metrics.MonitorRequest(metrics.Metrics.MetadataClient, c.client, req)
	if err != nil {
		return nil, fmt.Errorf("error calling graphql at %s: %w", c.endpoint, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("graphql returned status %d", res.StatusCode)
	}

	var parsed gqlResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("error parsing graphql response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		raw, _ := json.Marshal(parsed.Errors)
		return nil, fmt.Errorf("graphql errors: %s", raw)
	}
	return parsed.Data, nil
}

// postValidated runs the query and checks the full response data against a
// compiled JSON schema before the caller unmarshals it.
func (c *metadataClient) postValidated(ctx context.Context, query string, variables map[string]interface{}, schema *gojsonschema.Schema) (json.RawMessage, error) {
	data, err := c.post(ctx, query, variables)
	if err != nil {
		return nil, err
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("error validating graphql response: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("graphql response failed validation: %v", result.Errors())
	}
	return data, nil
}

var fetchAnswerSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"properties": {
		"answer": {
			"type": "object",
			"properties": {
				"hasUntransferredMedia": {"type": "boolean"},
				"transcript": {"type": "string"},
				"media": {
					"type": ["array", "null"],
					"items": {
						"type": "object",
						"properties": {
							"type": {"type": "string"},
							"tag": {"type": "string"},
							"url": {"type": "string"},
							"needsTransfer": {"type": "boolean"}
						},
						"required": ["type", "tag", "url", "needsTransfer"]
					}
				}
			},
			"required": ["transcript", "media", "hasUntransferredMedia"]
		}
	},
	"required": ["answer"]
}`)

const fetchAnswerQuery = `query Answer($mentor: ID!, $question: ID!) {
	answer(mentor: $mentor, question: $question) {
		_id
		transcript
		hasUntransferredMedia
		media {
			type
			tag
			url
			needsTransfer
		}
	}
}`

func (c *metadataClient) FetchAnswer(ctx context.Context, mentor, question string) (*Answer, error) {
	schema, err := gojsonschema.NewSchema(fetchAnswerSchema)
	if err != nil {
		return nil, fmt.Errorf("error compiling answer schema: %w", err)
	}
	data, err := c.postValidated(ctx, fetchAnswerQuery, map[string]interface{}{
		"mentor": mentor, "question": question,
	}, schema)
	if err != nil {
		return nil, err
	}
	var out struct {
		Answer Answer `json:"answer"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("error parsing answer: %w", err)
	}
	return &out.Answer, nil
}

const fetchTranscriptAndMediaQuery = `query Answer($mentor: ID!, $question: ID!) {
	answer(mentor: $mentor, question: $question) {
		hasEditedTranscript
		transcript
		media {
			type
			tag
			url
		}
	}
}`

func (c *metadataClient) FetchAnswerTranscriptAndMedia(ctx context.Context, mentor, question string) (string, []task.Media, bool, error) {
	data, err := c.post(ctx, fetchTranscriptAndMediaQuery, map[string]interface{}{
		"mentor": mentor, "question": question,
	})
	if err != nil {
		return "", nil, false, err
	}
	var out struct {
		Answer struct {
			HasEditedTranscript bool         `json:"hasEditedTranscript"`
			Transcript          string       `json:"transcript"`
			Media               []task.Media `json:"media"`
		} `json:"answer"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", nil, false, fmt.Errorf("error parsing answer transcript: %w", err)
	}
	return out.Answer.Transcript, out.Answer.Media, out.Answer.HasEditedTranscript, nil
}

const fetchQuestionNameQuery = `query Question($id: ID!) {
	question(id: $id) {
		name
	}
}`

func (c *metadataClient) FetchQuestionName(ctx context.Context, questionID string) (string, error) {
	data, err := c.post(ctx, fetchQuestionNameQuery, map[string]interface{}{"id": questionID})
	if err != nil {
		return "", err
	}
	var out struct {
		Question struct {
			Name string `json:"name"`
		} `json:"question"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("error parsing question: %w", err)
	}
	return out.Question.Name, nil
}

const fetchUploadTaskQuery = `query UploadTask($mentorId: ID!, $questionId: ID!) {
	uploadTask(mentorId: $mentorId, questionId: $questionId) {
		taskList {
			task_name
			task_id
			status
		}
		transcript
	}
}`

// FetchUploadTask returns nil without error when the answer has no upload
// task record.
func (c *metadataClient) FetchUploadTask(ctx context.Context, mentor, question string) (*task.Upload, error) {
	data, err := c.post(ctx, fetchUploadTaskQuery, map[string]interface{}{
		"mentorId": mentor, "questionId": question,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		UploadTask *task.Upload `json:"uploadTask"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("error parsing upload task: %w", err)
	}
	if out.UploadTask != nil {
		out.UploadTask.Mentor = mentor
		out.UploadTask.Question = question
	}
	return out.UploadTask, nil
}

const uploadAnswerMutation = `mutation UploadAnswer($mentorId: ID!, $questionId: ID!, $answer: UploadAnswerType!) {
	api {
		uploadAnswer(mentorId: $mentorId, questionId: $questionId, answer: $answer)
	}
}`

func answerInput(req AnswerUpdate) map[string]interface{} {
	answer := map[string]interface{}{
		"transcript": req.Transcript,
		"media":      mediaOrEmpty(req.Media),
	}
	if req.HasEditedTranscript != nil {
		answer["hasEditedTranscript"] = *req.HasEditedTranscript
	}
	return answer
}

func (c *metadataClient) UploadAnswer(ctx context.Context, req AnswerUpdate) error {
	_, err := c.post(ctx, uploadAnswerMutation, map[string]interface{}{
		"mentorId": req.Mentor, "questionId": req.Question, "answer": answerInput(req),
	})
	return err
}

const uploadAnswerAndTaskUpdateMutation = `mutation UploadAnswerAndTaskUpdate($mentorId: ID!, $questionId: ID!, $answer: UploadAnswerType!, $status: UploadTaskInputType!) {
	api {
		uploadAnswer(mentorId: $mentorId, questionId: $questionId, answer: $answer)
		uploadTaskUpdate(mentorId: $mentorId, questionId: $questionId, status: $status)
	}
}`

// UploadAnswerAndTaskUpdate applies an answer update and replaces the upload
// task record in a single round trip. Ingestion uses it to reset the previous
// take's transcript in the same step that seeds the new task list.
func (c *metadataClient) UploadAnswerAndTaskUpdate(ctx context.Context, answer AnswerUpdate, status UploadTaskStatus) error {
	_, err := c.post(ctx, uploadAnswerAndTaskUpdateMutation, map[string]interface{}{
		"mentorId":   status.Mentor,
		"questionId": status.Question,
		"answer":     answerInput(answer),
		"status":     statusInput(status),
	})
	return err
}

const uploadTaskUpdateMutation = `mutation UploadStatus($mentorId: ID!, $questionId: ID!, $status: UploadTaskInputType!) {
	api {
		uploadTaskUpdate(mentorId: $mentorId, questionId: $questionId, status: $status)
	}
}`

func statusInput(req UploadTaskStatus) map[string]interface{} {
	status := map[string]interface{}{"taskList": req.TaskList}
	if req.Transcript != "" {
		status["transcript"] = req.Transcript
	}
	if len(req.Media) > 0 {
		status["media"] = req.Media
	}
	return status
}

func (c *metadataClient) UploadTaskUpdate(ctx context.Context, req UploadTaskStatus) error {
	_, err := c.post(ctx, uploadTaskUpdateMutation, map[string]interface{}{
		"mentorId": req.Mentor, "questionId": req.Question, "status": statusInput(req),
	})
	return err
}

const updateTaskStatusMutation = `mutation UpdateUploadTaskStatus($mentorId: ID!, $questionId: ID!, $taskId: String!, $newStatus: String!, $transcript: String, $media: [AnswerMediaInputType]) {
	api {
		uploadTaskStatusUpdate(mentorId: $mentorId, questionId: $questionId, taskId: $taskId, newStatus: $newStatus, transcript: $transcript, media: $media)
	}
}`

func (c *metadataClient) UpdateTaskStatus(ctx context.Context, req TaskStatusUpdate) error {
	variables := map[string]interface{}{
		"mentorId":   req.Mentor,
		"questionId": req.Question,
		"taskId":     req.TaskID,
		"newStatus":  string(req.NewStatus),
	}
	if req.Transcript != "" {
		variables["transcript"] = req.Transcript
	}
	if len(req.Media) > 0 {
		variables["media"] = req.Media
	}
	_, err := c.post(ctx, updateTaskStatusMutation, variables)
	return err
}

const mediaUpdateMutation = `mutation MediaUpdate($mentorId: ID!, $questionId: ID!, $webMedia: AnswerMediaInputType, $mobileMedia: AnswerMediaInputType, $vttMedia: AnswerMediaInputType) {
	api {
		mediaUpdate(mentorId: $mentorId, questionId: $questionId, webMedia: $webMedia, mobileMedia: $mobileMedia, vttMedia: $vttMedia)
	}
}`

func (c *metadataClient) MediaUpdate(ctx context.Context, req MediaPatch) error {
	variables := map[string]interface{}{
		"mentorId": req.Mentor, "questionId": req.Question,
	}
	if req.WebMedia != nil {
		variables["webMedia"] = req.WebMedia
	}
	if req.MobileMedia != nil {
		variables["mobileMedia"] = req.MobileMedia
	}
	if req.VttMedia != nil {
		variables["vttMedia"] = req.VttMedia
	}
	_, err := c.post(ctx, mediaUpdateMutation, variables)
	return err
}

const thumbnailUpdateMutation = `mutation MentorThumbnailUpdate($mentorId: ID!, $thumbnail: String!) {
	api {
		mentorThumbnailUpdate(mentorId: $mentorId, thumbnail: $thumbnail)
	}
}`

func (c *metadataClient) MentorThumbnailUpdate(ctx context.Context, mentor, thumbnail string) error {
	_, err := c.post(ctx, thumbnailUpdateMutation, map[string]interface{}{
		"mentorId": mentor, "thumbnail": thumbnail,
	})
	return err
}

const fetchImportTaskQuery = `query ImportTask($mentorId: ID!) {
	importTask(mentorId: $mentorId) {
		graphQLUpdate {
			status
			errorMessage
		}
		s3VideoMigrate {
			status
			answerMediaMigrations {
				question
				status
				errorMessage
			}
		}
	}
}`

// FetchImportTask returns nil without error when the mentor has no import in
// flight.
func (c *metadataClient) FetchImportTask(ctx context.Context, mentor string) (*ImportTask, error) {
	data, err := c.post(ctx, fetchImportTaskQuery, map[string]interface{}{"mentorId": mentor})
	if err != nil {
		return nil, err
	}
	var out struct {
		ImportTask *struct {
			GraphQLUpdate  GraphQLUpdate    `json:"graphQLUpdate"`
			S3VideoMigrate S3VideoMigration `json:"s3VideoMigrate"`
		} `json:"importTask"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("error parsing import task: %w", err)
	}
	if out.ImportTask == nil {
		return nil, nil
	}
	return &ImportTask{
		Mentor:           mentor,
		GraphQLUpdate:    out.ImportTask.GraphQLUpdate,
		S3VideoMigration: out.ImportTask.S3VideoMigrate,
	}, nil
}

const importTaskCreateMutation = `mutation ImportTaskCreate($mentor: ID!, $graphQLUpdate: GraphQLUpdateInputType!, $s3VideoMigrate: S3VideoMigrationInputType!) {
	api {
		importTaskCreate(graphQLUpdate: $graphQLUpdate, mentor: $mentor, s3VideoMigrate: $s3VideoMigrate)
	}
}`

func (c *metadataClient) ImportTaskCreate(ctx context.Context, req ImportTask) error {
	_, err := c.post(ctx, importTaskCreateMutation, map[string]interface{}{
		"mentor":         req.Mentor,
		"graphQLUpdate":  req.GraphQLUpdate,
		"s3VideoMigrate": req.S3VideoMigration,
	})
	return err
}

const importTaskUpdateMutation = `mutation ImportTaskUpdate($mentor: ID!, $graphQLUpdate: GraphQLUpdateInputType, $s3VideoMigrateUpdate: S3VideoMigrationInputType, $answerMediaMigrateUpdate: AnswerMediaMigrationInputType) {
	api {
		importTaskUpdate(mentor: $mentor, graphQLUpdate: $graphQLUpdate, s3VideoMigrateUpdate: $s3VideoMigrateUpdate, answerMediaMigrateUpdate: $answerMediaMigrateUpdate)
	}
}`

func (c *metadataClient) ImportTaskUpdate(ctx context.Context, req ImportTaskUpdateRequest) error {
	variables := map[string]interface{}{"mentor": req.Mentor}
	if req.GraphQLUpdate != nil {
		variables["graphQLUpdate"] = req.GraphQLUpdate
	}
	if req.S3VideoMigration != nil {
		variables["s3VideoMigrateUpdate"] = req.S3VideoMigration
	}
	if req.AnswerMediaMigrateUpdate != nil {
		variables["answerMediaMigrateUpdate"] = req.AnswerMediaMigrateUpdate
	}
	_, err := c.post(ctx, importTaskUpdateMutation, variables)
	return err
}

const mentorImportMutation = `mutation MentorImport($mentor: ID!, $json: MentorImportJsonType!, $replacedMentorDataChanges: ReplacedMentorDataChangesType!) {
	api {
		mentorImport(mentor: $mentor, json: $json, replacedMentorDataChanges: $replacedMentorDataChanges) {
			answers {
				hasUntransferredMedia
				question {
					_id
				}
				webMedia {
					url
					type
					tag
					needsTransfer
				}
				mobileMedia {
					url
					type
					tag
					needsTransfer
				}
				vttMedia {
					url
					type
					tag
					needsTransfer
				}
			}
		}
	}
}`

var mentorImportSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"properties": {
		"api": {
			"type": "object",
			"properties": {
				"mentorImport": {
					"type": "object",
					"properties": {
						"answers": {
							"type": "array",
							"items": {
								"type": "object",
								"properties": {
									"hasUntransferredMedia": {"type": ["boolean", "null"]},
									"question": {
										"type": "object",
										"properties": {"_id": {"type": "string"}},
										"required": ["_id"]
									},
									"webMedia": {"type": ["object", "null"]},
									"mobileMedia": {"type": ["object", "null"]},
									"vttMedia": {"type": ["object", "null"]}
								},
								"required": ["hasUntransferredMedia", "question", "webMedia", "mobileMedia", "vttMedia"]
							}
						}
					},
					"required": ["answers"]
				}
			},
			"required": ["mentorImport"]
		}
	},
	"required": ["api"]
}`)

func (c *metadataClient) MentorImport(ctx context.Context, mentor string, mentorJSON, replacedMentorDataChanges json.RawMessage) ([]ImportedAnswer, error) {
	schema, err := gojsonschema.NewSchema(mentorImportSchema)
	if err != nil {
		return nil, fmt.Errorf("error compiling mentor import schema: %w", err)
	}
	data, err := c.postValidated(ctx, mentorImportMutation, map[string]interface{}{
		"mentor":                    mentor,
		"json":                      mentorJSON,
		"replacedMentorDataChanges": replacedMentorDataChanges,
	}, schema)
	if err != nil {
		return nil, err
	}
	var out struct {
		API struct {
			MentorImport struct {
				Answers []ImportedAnswer `json:"answers"`
			} `json:"mentorImport"`
		} `json:"api"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("error parsing mentor import response: %w", err)
	}
	return out.API.MentorImport.Answers, nil
}

func mediaOrEmpty(media []task.Media) []task.Media {
	if media == nil {
		return []task.Media{}
	}
	return media
}
