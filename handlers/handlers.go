package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/errors"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/metrics"
	"github.com/mentorpal/mentor-upload-api/middleware"
	"github.com/mentorpal/mentor-upload-api/pipeline"
	"github.com/mentorpal/mentor-upload-api/task"
	"github.com/mentorpal/mentor-upload-api/transfer"
	"github.com/xeipuuv/gojsonschema"
)

// UploadHandlersCollection wires the HTTP surface to the dispatcher and the
// process-wide clients.
type UploadHandlersCollection struct {
	Dispatcher  *pipeline.Dispatcher
	Metadata    clients.Metadata
	Store       clients.ObjectStore
	Transferrer *transfer.Transferrer
}

// maxUploadMemory caps the in-memory portion of multipart parsing; larger
// video parts spill to disk.
const maxUploadMemory = 32 << 20

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}

	return false
}

// readPayload returns the JSON request body. Handlers accept either a plain
// application/json body or a multipart form with the JSON in a "body" field
// next to the file parts.
func readPayload(r *http.Request) ([]byte, error) {
	if HasContentType(r, "application/json") {
		return io.ReadAll(r.Body)
	}
	if HasContentType(r, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			return nil, fmt.Errorf("cannot parse multipart form: %w", err)
		}
		return []byte(r.FormValue("body")), nil
	}
	return nil, fmt.Errorf("unsupported content type %q", r.Header.Get("Content-Type"))
}

// decodePayload runs the named schema over the payload and unmarshals it.
// A non-nil return has already been written to the response.
func decodePayload(w http.ResponseWriter, r *http.Request, schemaName string, dst interface{}) bool {
	schema := inputSchemasCompiled[schemaName]

	if payload, err := readPayload(r); err != nil {
		errors.WriteHTTPUnsupportedMediaType(w, "Cannot read payload", err)
		return false
	} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
		errors.WriteHTTPBadRequest(w, "Cannot validate payload", err)
		return false
	} else if !result.Valid() {
		errors.WriteHTTPBadBodySchema(schemaName, w, result.Errors())
		return false
	} else if err := json.Unmarshal(payload, dst); err != nil {
		errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
		return false
	}
	return true
}

// authorizeMentor enforces the per-mentor edit policy once the target mentor
// is known. A false return has already been written to the response.
func authorizeMentor(w http.ResponseWriter, r *http.Request, mentor string) bool {
	claims := middleware.ClaimsFrom(r)
	if claims == nil {
		errors.WriteHTTPUnauthorized(w, "No authenticated user", nil)
		return false
	}
	if !claims.CanEditMentor(mentor) {
		errors.WriteHTTPForbidden(w, "You do not have permission to edit this mentor", nil)
		return false
	}
	return true
}

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.LogNoRequestID("failed to write HTTP API response", "error", err)
	}
}

// requestBaseURL reconstructs the scheme+host the client used, for building
// the status URL it can poll.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

type UploadAnswerRequest struct {
	Mentor              string     `json:"mentor"`
	Question            string     `json:"question"`
	Trim                *task.Trim `json:"trim"`
	HasEditedTranscript bool       `json:"hasEditedTranscript"`
}

type UploadAnswerResponse struct {
	TranscodeWebTask    *task.Entry `json:"transcodeWebTask"`
	TranscodeMobileTask *task.Entry `json:"transcodeMobileTask"`
	TranscribeTask      *task.Entry `json:"transcribeTask,omitempty"`
	TrimUploadTask      *task.Entry `json:"trimUploadTask,omitempty"`
	StatusURL           string      `json:"statusUrl"`
}

func (d *UploadHandlersCollection) UploadAnswer() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		metrics.Metrics.UploadAnswerRequestCount.Inc()
		start := time.Now()

		var req UploadAnswerRequest
		if !HasContentType(r, "multipart/form-data") {
			errors.WriteHTTPUnsupportedMediaType(w, "Requires multipart/form-data content type", nil)
			return
		}
		if !decodePayload(w, r, "UploadAnswer", &req) {
			return
		}
		if req.Trim != nil {
			if err := req.Trim.Validate(); err != nil {
				errors.WriteHTTPBadRequest(w, "Invalid trim window", err)
				return
			}
		}
		if !authorizeMentor(w, r, req.Mentor) {
			return
		}

		file, header, err := r.FormFile("video")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Missing video file part", err)
			return
		}
		defer file.Close()
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext != ".mp4" && ext != ".mp3" {
			errors.WriteHTTPBadRequest(w, "Video file must be mp4 or mp3", nil)
			return
		}

		scratch, err := d.Dispatcher.SaveScratch(req.Mentor, req.Question, ext, file)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot store uploaded video", err)
			return
		}

		resp, err := d.Dispatcher.Dispatch(r.Context(), pipeline.IngestRequest{
			Mentor:              req.Mentor,
			Question:            req.Question,
			VideoFile:           scratch,
			Trim:                req.Trim,
			HasEditedTranscript: req.HasEditedTranscript,
			BaseURL:             requestBaseURL(r),
		})
		if err != nil {
			metrics.Metrics.UploadAnswerRequestDurationSec.
				WithLabelValues("false", dispatchErrorStatus(err)).
				Observe(time.Since(start).Seconds())
			writeDispatchError(w, err)
			return
		}
		metrics.Metrics.UploadAnswerRequestDurationSec.
			WithLabelValues("true", "200").
			Observe(time.Since(start).Seconds())

		answer := UploadAnswerResponse{StatusURL: resp.StatusURL}
		for _, entry := range resp.TaskList {
			switch entry.TaskName {
			case task.StageTranscodeWeb:
				answer.TranscodeWebTask = entry
			case task.StageTranscodeMobile:
				answer.TranscodeMobileTask = entry
			case task.StageTranscribe:
				answer.TranscribeTask = entry
			case task.StageTrimUpload:
				answer.TrimUploadTask = entry
			}
		}
		writeData(w, answer)
	}
}

func dispatchErrorStatus(err error) string {
	switch {
	case stderrors.Is(err, pipeline.ErrUploadInProgress),
		stderrors.Is(err, pipeline.ErrVideoTooShort),
		stderrors.Is(err, pipeline.ErrNoVideoTrack):
		return "400"
	default:
		return "500"
	}
}

func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, pipeline.ErrUploadInProgress):
		errors.WriteHTTPConflict(w, "Upload already in progress", err)
	case stderrors.Is(err, pipeline.ErrVideoTooShort), stderrors.Is(err, pipeline.ErrNoVideoTrack):
		errors.WriteHTTPBadRequest(w, "Unusable video", err)
	default:
		errors.WriteHTTPInternalServerError(w, "Cannot process upload", err)
	}
}

type TrimExistingUploadRequest struct {
	Mentor   string    `json:"mentor"`
	Question string    `json:"question"`
	Trim     task.Trim `json:"trim"`
}

func (d *UploadHandlersCollection) TrimExistingUpload() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req TrimExistingUploadRequest
		if !decodePayload(w, r, "TrimExistingUpload", &req) {
			return
		}
		if err := req.Trim.Validate(); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid trim window", err)
			return
		}
		if !authorizeMentor(w, r, req.Mentor) {
			return
		}

		resp, err := d.Dispatcher.TrimExistingUpload(r.Context(), req.Mentor, req.Question, req.Trim, requestBaseURL(r))
		if err != nil {
			writeDispatchError(w, err)
			return
		}
		writeData(w, resp)
	}
}

type RegenVTTRequest struct {
	Mentor   string `json:"mentor"`
	Question string `json:"question"`
}

func (d *UploadHandlersCollection) RegenVTT() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req RegenVTTRequest
		if !decodePayload(w, r, "RegenVTT", &req) {
			return
		}
		if !authorizeMentor(w, r, req.Mentor) {
			return
		}

		regenerated, err := d.Dispatcher.RegenerateVTT(r.Context(), req.Mentor, req.Question)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot regenerate subtitles", err)
			return
		}
		writeData(w, map[string]bool{"regen_vtt": regenerated})
	}
}

type CancelUploadRequest struct {
	Mentor          string   `json:"mentor"`
	Question        string   `json:"question"`
	TaskIDsToCancel []string `json:"task_ids_to_cancel"`
}

type CancelUploadResponse struct {
	ID           string   `json:"id"`
	CancelledIDs []string `json:"cancelledIds"`
}

func (d *UploadHandlersCollection) CancelUpload() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req CancelUploadRequest
		if !decodePayload(w, r, "CancelUpload", &req) {
			return
		}
		if !authorizeMentor(w, r, req.Mentor) {
			return
		}

		cancelled, err := d.Dispatcher.CancelTasks(r.Context(), req.Mentor, req.Question, req.TaskIDsToCancel)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot cancel tasks", err)
			return
		}
		if cancelled == nil {
			cancelled = []string{}
		}
		writeData(w, CancelUploadResponse{ID: uuid.New().String(), CancelledIDs: cancelled})
	}
}

// UploadStatus serves the statusUrl handed out by the ingest responses.
func (d *UploadHandlersCollection) UploadStatus() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		mentor := ps.ByName("mentor")
		question := ps.ByName("question")
		if !authorizeMentor(w, r, mentor) {
			return
		}
		upload, err := d.Metadata.FetchUploadTask(r.Context(), mentor, question)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot fetch upload status", err)
			return
		}
		writeData(w, upload)
	}
}

func (d *UploadHandlersCollection) Ping() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeData(w, "pong")
	}
}
