package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/handlers"
	"github.com/mentorpal/mentor-upload-api/middleware"
	"github.com/mentorpal/mentor-upload-api/pipeline"
	"github.com/mentorpal/mentor-upload-api/transfer"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "router-test-secret"

func testRouter(t *testing.T) (http.Handler, *clients.StubMetadata) {
	metadata := clients.NewStubMetadata()
	store := clients.NewStubObjectStore()
	dispatcher := &pipeline.Dispatcher{
		Metadata:   metadata,
		Store:      store,
		Publisher:  &clients.StubPublisher{},
		UploadRoot: t.TempDir(),
	}
	uploadHandlers := &handlers.UploadHandlersCollection{
		Dispatcher:  dispatcher,
		Metadata:    metadata,
		Store:       store,
		Transferrer: &transfer.Transferrer{Metadata: metadata, Store: store},
	}
	return NewUploadAPIRouter(uploadHandlers, testJWTSecret), metadata
}

func bearerToken(t *testing.T, mentor string) string {
	claims := &middleware.Claims{
		ID: "user-1", Role: middleware.RoleUser, MentorIDs: []string{mentor},
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func TestRouterServesPingWithoutAuth(t *testing.T) {
	router, _ := testRouter(t)
	for _, path := range []string{"/upload/ping", "/upload/ping/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Contains(t, rec.Body.String(), "pong")
	}
}

func TestRouterRejectsMissingToken(t *testing.T) {
	router, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/upload/answer/regen_vtt", strings.NewReader(`{"mentor": "mentor1", "question": "question1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterRoutesAuthedRequests(t *testing.T) {
	router, metadata := testRouter(t)
	metadata.Answers["mentor1/question1"] = &clients.Answer{}

	for _, path := range []string{"/upload/answer/regen_vtt", "/upload/answer/regen_vtt/"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"mentor": "mentor1", "question": "question1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+bearerToken(t, "mentor1"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Contains(t, rec.Body.String(), "regen_vtt")
	}
}

func TestRouterServesStatusRoute(t *testing.T) {
	router, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/upload/answer/status/mentor1/question1", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, "mentor1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
