package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/errors"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/middleware"
	"github.com/mentorpal/mentor-upload-api/task"
)

type TransferAnswerRequest struct {
	Mentor   string `json:"mentor"`
	Question string `json:"question"`
}

type TransferAnswerResponse struct {
	ID        string `json:"id"`
	StatusURL string `json:"statusUrl"`
}

// TransferAnswer re-homes an answer's media into this deployment's bucket.
// The copy runs in the background; the response carries the tracking task id
// and the status URL to poll.
func (d *UploadHandlersCollection) TransferAnswer() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req TransferAnswerRequest
		if !decodePayload(w, r, "TransferAnswer", &req) {
			return
		}
		if !authorizeMentor(w, r, req.Mentor) {
			return
		}

		entry := task.NewEntry(task.StageFinalization)
		go func() {
			if err := d.Transferrer.TransferAnswer(context.Background(), req.Mentor, req.Question, entry.TaskID); err != nil {
				log.LogNoRequestID("answer transfer failed", "mentor", req.Mentor, "question", req.Question, "error", err)
			}
		}()

		writeData(w, TransferAnswerResponse{
			ID:        entry.TaskID,
			StatusURL: fmt.Sprintf("%s/upload/answer/status/%s/%s", requestBaseURL(r), req.Mentor, req.Question),
		})
	}
}

type TransferMentorRequest struct {
	Mentor                    string          `json:"mentor"`
	MentorExportJSON          json.RawMessage `json:"mentorExportJson"`
	ReplacedMentorDataChanges json.RawMessage `json:"replacedMentorDataChanges"`
}

// TransferMentor imports a full mentor export. The import task is created
// up front so clients can poll it while the migration runs in the
// background.
func (d *UploadHandlersCollection) TransferMentor() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req TransferMentorRequest
		if !decodePayload(w, r, "TransferMentor", &req) {
			return
		}
		claims := middleware.ClaimsFrom(r)
		if claims == nil {
			errors.WriteHTTPUnauthorized(w, "No authenticated user", nil)
			return
		}
		if !claims.CanManageContent() {
			errors.WriteHTTPForbidden(w, "You do not have permission to import mentors", nil)
			return
		}

		if err := d.Metadata.ImportTaskCreate(r.Context(), clients.ImportTask{
			Mentor:           req.Mentor,
			GraphQLUpdate:    clients.GraphQLUpdate{Status: clients.ImportStatusQueued},
			S3VideoMigration: clients.S3VideoMigration{Status: clients.ImportStatusQueued},
		}); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot create import task", err)
			return
		}

		go func() {
			if err := d.Transferrer.ImportMentor(context.Background(), req.Mentor, req.MentorExportJSON, req.ReplacedMentorDataChanges); err != nil {
				log.LogNoRequestID("mentor import failed", "mentor", req.Mentor, "error", err)
			}
		}()

		writeData(w, map[string]string{
			"statusUrl": fmt.Sprintf("%s/upload/transfer/status/%s", requestBaseURL(r), req.Mentor),
		})
	}
}

// TransferStatus serves the statusUrl handed out by TransferMentor.
func (d *UploadHandlersCollection) TransferStatus() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		mentor := ps.ByName("mentor")
		if !authorizeMentor(w, r, mentor) {
			return
		}
		importTask, err := d.Metadata.FetchImportTask(r.Context(), mentor)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot fetch import status", err)
			return
		}
		writeData(w, importTask)
	}
}
