package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mentorpal/mentor-upload-api/log"
)

// TranscribeResult is what the speech service returns: the flat transcript
// and, when the service produced one, a complete WEBVTT subtitle document
// with its own cue timings.
type TranscribeResult struct {
	Transcript string `json:"transcript"`
	Subtitles  string `json:"subtitles"`
}

// Transcriber converts an audio file into a transcript and subtitle track
// via the external speech-to-text service.
type Transcriber interface {
	TranscribeAudio(ctx context.Context, audioPath string) (TranscribeResult, error)
}

type transcribeClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewTranscribeClient(endpoint, apiKey string) Transcriber {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 2 * time.Second
	client.RetryWaitMax = 30 * time.Second
	// Transcription of a long answer can take a while.
	client.HTTPClient.Timeout = 10 * time.Minute
	client.Logger = log.NewRetryableHTTPLogger()
	return &transcribeClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client.StandardClient(),
	}
}

func (c *transcribeClient) TranscribeAudio(ctx context.Context, audioPath string) (TranscribeResult, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return TranscribeResult{}, fmt.Errorf("error opening audio file %s: %w", audioPath, err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return TranscribeResult{}, fmt.Errorf("error building transcribe request: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return TranscribeResult{}, fmt.Errorf("error reading audio file %s: %w", audioPath, err)
	}
	if err := writer.WriteField("generateSubtitles", "true"); err != nil {
		return TranscribeResult{}, fmt.Errorf("error building transcribe request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return TranscribeResult{}, fmt.Errorf("error building transcribe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return TranscribeResult{}, fmt.Errorf("error creating transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "bearer "+c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		return TranscribeResult{}, fmt.Errorf("error calling transcribe service: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return TranscribeResult{}, fmt.Errorf("transcribe service returned status %d", res.StatusCode)
	}

	var parsed TranscribeResult
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return TranscribeResult{}, fmt.Errorf("error parsing transcribe response: %w", err)
	}
	return parsed, nil
}
