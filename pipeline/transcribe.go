package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/media"
	"github.com/mentorpal/mentor-upload-api/metrics"
	"github.com/mentorpal/mentor-upload-api/task"
)

// Questions with this reserved name are silent filler clips and are never
// transcribed.
const idleQuestionName = "_IDLE_"

// TranscribeStage extracts the answer audio, runs it through the speech
// service and uploads the en.vtt subtitle track, synthesizing one from the
// transcript when the service returned none. The answer record is updated
// with the machine transcript, so the stage is only scheduled when the mentor
// has not hand-edited one.
func (r *Runner) TranscribeStage(transcriber clients.Transcriber) StageFunc {
	return func(ctx context.Context, sc StageContext) (StageResult, error) {
		name, err := r.Metadata.FetchQuestionName(ctx, sc.Job.Question)
		if err != nil {
			return StageResult{}, fmt.Errorf("error fetching question name: %w", err)
		}
		if name == idleQuestionName {
			log.Log(taskID(sc), "idle question, skipping transcription")
			return StageResult{}, nil
		}

		audioFile := filepath.Join(sc.WorkDir, "audio.mp3")
		if err := media.ExtractAudio(sc.LocalVideo, audioFile); err != nil {
			return StageResult{}, err
		}
		start := time.Now()
		speech, err := transcriber.TranscribeAudio(ctx, audioFile)
		metrics.Metrics.TranscribeDurationSec.Observe(time.Since(start).Seconds())
		if err != nil {
			return StageResult{}, fmt.Errorf("transcription failed: %w", err)
		}
		transcript := speech.Transcript

		result := StageResult{Transcript: transcript}
		vttFile := filepath.Join(sc.WorkDir, "en.vtt")
		doc, err := subtitleTrack(ctx, speech, sc.LocalVideo, vttFile)
		if err != nil {
			return StageResult{}, err
		}
		if doc != "" {
			key := clients.SubtitleKey(sc.Job.Mentor, sc.Job.Question)
			if err := r.Store.PutFile(ctx, key, vttFile, "text/vtt"); err != nil {
				return StageResult{}, err
			}
			vttMedia := task.Media{Type: task.MediaTypeSubtitles, Tag: task.TagEnglish, URL: key}
			result.Media = []task.Media{vttMedia}
			result.Patch = &clients.MediaPatch{VttMedia: &vttMedia}
		}

		hasEdited := false
		if err := r.Metadata.UploadAnswer(ctx, clients.AnswerUpdate{
			Mentor:              sc.Job.Mentor,
			Question:            sc.Job.Question,
			Transcript:          transcript,
			Media:               result.Media,
			HasEditedTranscript: &hasEdited,
		}); err != nil {
			return StageResult{}, fmt.Errorf("error updating answer transcript: %w", err)
		}
		return result, nil
	}
}

// subtitleTrack writes the answer's subtitle document to vttFile: the
// service's own cue timings verbatim when present, otherwise a track
// synthesized from the flat transcript.
func subtitleTrack(ctx context.Context, speech clients.TranscribeResult, videoPath, vttFile string) (string, error) {
	if speech.Subtitles != "" {
		if err := os.WriteFile(vttFile, []byte(speech.Subtitles), 0644); err != nil {
			return "", fmt.Errorf("error writing subtitles: %w", err)
		}
		return speech.Subtitles, nil
	}
	duration := media.Duration(ctx, videoPath)
	return media.WriteVTT(speech.Transcript, duration, vttFile)
}

func taskID(sc StageContext) string {
	if entry := sc.Job.TranscribeTask; entry != nil {
		return entry.TaskID
	}
	return ""
}
