package handlers

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/errors"
)

type ThumbnailRequest struct {
	Mentor string `json:"mentor"`
}

// Thumbnail stores a new mentor thumbnail under a timestamped key and points
// the mentor record at it.
func (d *UploadHandlersCollection) Thumbnail() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req ThumbnailRequest
		if !HasContentType(r, "multipart/form-data") {
			errors.WriteHTTPUnsupportedMediaType(w, "Requires multipart/form-data content type", nil)
			return
		}
		if !decodePayload(w, r, "Thumbnail", &req) {
			return
		}
		if !authorizeMentor(w, r, req.Mentor) {
			return
		}

		file, _, err := r.FormFile("thumbnail")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Missing thumbnail file part", err)
			return
		}
		defer file.Close()

		workDir, err := os.MkdirTemp("", "thumbnail-*")
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot store thumbnail", err)
			return
		}
		defer os.RemoveAll(workDir)
		local := filepath.Join(workDir, "thumbnail.png")
		dst, err := os.Create(local)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot store thumbnail", err)
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			errors.WriteHTTPInternalServerError(w, "Cannot store thumbnail", err)
			return
		}
		dst.Close()

		key := clients.ThumbnailKey(req.Mentor, time.Now().UTC())
		if err := d.Store.PutFile(r.Context(), key, local, "image/png"); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot upload thumbnail", err)
			return
		}
		if err := d.Metadata.MentorThumbnailUpdate(r.Context(), req.Mentor, key); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot update mentor thumbnail", err)
			return
		}
		writeData(w, map[string]string{"thumbnail": d.Store.URLFor(key)})
	}
}
