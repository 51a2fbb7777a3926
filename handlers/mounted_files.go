package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/julienschmidt/httprouter"
	"github.com/mentorpal/mentor-upload-api/errors"
	"github.com/mentorpal/mentor-upload-api/middleware"
)

// authorizeContentManager gates the maintenance endpoints that touch the
// shared scratch directory rather than a single mentor.
func authorizeContentManager(w http.ResponseWriter, r *http.Request) bool {
	claims := middleware.ClaimsFrom(r)
	if claims == nil {
		errors.WriteHTTPUnauthorized(w, "No authenticated user", nil)
		return false
	}
	if !claims.CanManageContent() {
		errors.WriteHTTPForbidden(w, "You do not have permission to manage mounted files", nil)
		return false
	}
	return true
}

// MountedFiles lists the videos currently spooled in the upload scratch
// directory, for operators chasing stuck uploads.
func (d *UploadHandlersCollection) MountedFiles() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if !authorizeContentManager(w, r) {
			return
		}
		entries, err := os.ReadDir(d.Dispatcher.UploadRoot)
		if err != nil && !os.IsNotExist(err) {
			errors.WriteHTTPInternalServerError(w, "Cannot list mounted files", err)
			return
		}
		files := []string{}
		for _, entry := range entries {
			if !entry.IsDir() {
				files = append(files, entry.Name())
			}
		}
		writeData(w, map[string][]string{"mountedFiles": files})
	}
}

// scratchPath resolves a client-supplied file name inside the scratch dir,
// refusing anything that tries to climb out of it.
func (d *UploadHandlersCollection) scratchPath(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) {
		return "", false
	}
	return filepath.Join(d.Dispatcher.UploadRoot, name), true
}

func (d *UploadHandlersCollection) RemoveMountedFile() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !authorizeContentManager(w, r) {
			return
		}
		path, ok := d.scratchPath(ps.ByName("file"))
		if !ok {
			errors.WriteHTTPBadRequest(w, "Invalid file name", nil)
			return
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				errors.WriteHTTPBadRequest(w, "No such mounted file", err)
				return
			}
			errors.WriteHTTPInternalServerError(w, "Cannot remove mounted file", err)
			return
		}
		writeData(w, map[string]bool{"removed": true})
	}
}

func (d *UploadHandlersCollection) DownloadMountedFile() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !authorizeContentManager(w, r) {
			return
		}
		path, ok := d.scratchPath(ps.ByName("file"))
		if !ok {
			errors.WriteHTTPBadRequest(w, "Invalid file name", nil)
			return
		}
		if _, err := os.Stat(path); err != nil {
			errors.WriteHTTPBadRequest(w, "No such mounted file", err)
			return
		}
		http.ServeFile(w, r, path)
	}
}
