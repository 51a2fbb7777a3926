package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/mentorpal/mentor-upload-api/handlers"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/middleware"
)

// ListenAndServe runs the upload API until ctx is cancelled or the listener
// fails, then drains in-flight requests.
func ListenAndServe(ctx context.Context, addr, jwtSecret string, uploadHandlers *handlers.UploadHandlersCollection) error {
	router := NewUploadAPIRouter(uploadHandlers, jwtSecret)
	server := http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       120 * time.Second,
		WriteTimeout:      120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID("Starting mentor upload API", "host", addr)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// NewUploadAPIRouter wires the public upload surface. Every route is
// registered with and without a trailing slash since clients send both.
func NewUploadAPIRouter(uploadHandlers *handlers.UploadHandlersCollection, jwtSecret string) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(log.Base())

	authed := func(handle httprouter.Handle) httprouter.Handle {
		return withLogging(middleware.IsAuthorized(jwtSecret, handle))
	}
	post := func(path string, handle httprouter.Handle) {
		router.POST(path, handle)
		router.POST(path+"/", handle)
	}

	// Simple endpoint for healthchecks
	router.GET("/upload/ping", withLogging(uploadHandlers.Ping()))
	router.GET("/upload/ping/", withLogging(uploadHandlers.Ping()))

	post("/upload/answer", authed(uploadHandlers.UploadAnswer()))
	post("/upload/answer/trim_existing_upload", authed(uploadHandlers.TrimExistingUpload()))
	post("/upload/answer/regen_vtt", authed(uploadHandlers.RegenVTT()))
	post("/upload/answer/cancel", authed(uploadHandlers.CancelUpload()))
	post("/upload/transfer", authed(uploadHandlers.TransferAnswer()))
	post("/upload/transfer/mentor", authed(uploadHandlers.TransferMentor()))
	post("/upload/thumbnail", authed(uploadHandlers.Thumbnail()))

	router.GET("/upload/answer/status/:mentor/:question", authed(uploadHandlers.UploadStatus()))
	router.GET("/upload/transfer/status/:mentor", authed(uploadHandlers.TransferStatus()))

	// scratch dir maintenance, content managers only
	router.GET("/upload/answer/mounted_files", authed(uploadHandlers.MountedFiles()))
	router.GET("/upload/answer/mounted_files/", authed(uploadHandlers.MountedFiles()))
	router.POST("/upload/answer/remove_mounted_file/:file", authed(uploadHandlers.RemoveMountedFile()))
	router.GET("/upload/answer/download_mounted_file/:file", authed(uploadHandlers.DownloadMountedFile()))

	return router
}
