package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/mentorpal/mentor-upload-api/middleware"
	"github.com/stretchr/testify/require"
)

func managerClaims() *middleware.Claims {
	return &middleware.Claims{ID: "admin-1", Role: middleware.RoleAdmin}
}

func TestMountedFilesListsScratchDir(t *testing.T) {
	handlers, _, _, _ := testHandlers(t)
	scratch := handlers.Dispatcher.UploadRoot
	require.NoError(t, os.WriteFile(filepath.Join(scratch, "stuck-upload.mp4"), []byte("x"), 0644))

	req := httptest.NewRequest(http.MethodGet, "/upload/answer/mounted_files", nil)
	rec := httptest.NewRecorder()
	handlers.MountedFiles()(rec, withClaims(req, managerClaims()), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	decodeData(t, rec, &resp)
	require.Equal(t, []string{"stuck-upload.mp4"}, resp["mountedFiles"])
}

func TestMountedFilesRequiresContentManager(t *testing.T) {
	handlers, _, _, _ := testHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/upload/answer/mounted_files", nil)
	rec := httptest.NewRecorder()
	handlers.MountedFiles()(rec, withClaims(req, ownerClaims("mentor1")), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRemoveMountedFile(t *testing.T) {
	handlers, _, _, _ := testHandlers(t)
	scratch := handlers.Dispatcher.UploadRoot
	target := filepath.Join(scratch, "stuck-upload.mp4")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	req := httptest.NewRequest(http.MethodPost, "/upload/answer/remove_mounted_file/stuck-upload.mp4", nil)
	rec := httptest.NewRecorder()
	params := httprouter.Params{{Key: "file", Value: "stuck-upload.mp4"}}
	handlers.RemoveMountedFile()(rec, withClaims(req, managerClaims()), params)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoFileExists(t, target)
}

func TestRemoveMountedFileRejectsPathEscape(t *testing.T) {
	handlers, _, _, _ := testHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/upload/answer/remove_mounted_file/x", nil)
	rec := httptest.NewRecorder()
	params := httprouter.Params{{Key: "file", Value: "../../etc/passwd"}}
	handlers.RemoveMountedFile()(rec, withClaims(req, managerClaims()), params)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadMountedFile(t *testing.T) {
	handlers, _, _, _ := testHandlers(t)
	scratch := handlers.Dispatcher.UploadRoot
	require.NoError(t, os.WriteFile(filepath.Join(scratch, "clip.mp4"), []byte("mounted-bytes"), 0644))

	req := httptest.NewRequest(http.MethodGet, "/upload/answer/download_mounted_file/clip.mp4", nil)
	rec := httptest.NewRecorder()
	params := httprouter.Params{{Key: "file", Value: "clip.mp4"}}
	handlers.DownloadMountedFile()(rec, withClaims(req, managerClaims()), params)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "mounted-bytes", rec.Body.String())
}
