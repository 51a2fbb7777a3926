package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/errors"
	"github.com/mentorpal/mentor-upload-api/media"
	"github.com/mentorpal/mentor-upload-api/task"
)

// TrimUploadStage re-cuts an already published answer to the requested
// window: the web and mobile renditions are trimmed in place, and when a
// machine-generated subtitle track exists its cues and the stored transcript
// are restricted to the same window. Hand-edited transcripts are never
// touched.
func (r *Runner) TrimUploadStage(ctx context.Context, sc StageContext) (StageResult, error) {
	trim := sc.Job.Trim
	if trim == nil {
		return StageResult{}, errors.Unretriable(fmt.Errorf("trim stage scheduled without a trim window"))
	}
	if err := trim.Validate(); err != nil {
		return StageResult{}, errors.Unretriable(err)
	}

	transcript, answerMedia, hasEdited, err := r.Metadata.FetchAnswerTranscriptAndMedia(ctx, sc.Job.Mentor, sc.Job.Question)
	if err != nil {
		return StageResult{}, fmt.Errorf("error fetching answer media: %w", err)
	}

	result := StageResult{Patch: &clients.MediaPatch{}}
	for _, m := range answerMedia {
		switch {
		case m.Type == task.MediaTypeVideo && (m.Tag == task.TagWeb || m.Tag == task.TagMobile):
			trimmed, err := r.trimVideoInPlace(ctx, sc, m, trim)
			if err != nil {
				return StageResult{}, err
			}
			result.Media = append(result.Media, trimmed)
			if m.Tag == task.TagWeb {
				web := trimmed
				result.Patch.WebMedia = &web
			} else {
				mobile := trimmed
				result.Patch.MobileMedia = &mobile
			}
		case m.Type == task.MediaTypeSubtitles && m.Tag == task.TagEnglish && !hasEdited:
			trimmedVtt, newTranscript, err := r.trimSubtitles(ctx, sc, m, trim)
			if err != nil {
				return StageResult{}, err
			}
			if trimmedVtt == nil {
				continue
			}
			result.Media = append(result.Media, *trimmedVtt)
			result.Patch.VttMedia = trimmedVtt
			result.Transcript = newTranscript
			if transcript != newTranscript {
				if err := r.Metadata.UploadAnswer(ctx, clients.AnswerUpdate{
					Mentor:     sc.Job.Mentor,
					Question:   sc.Job.Question,
					Transcript: newTranscript,
					Media:      []task.Media{*trimmedVtt},
				}); err != nil {
					return StageResult{}, fmt.Errorf("error updating trimmed transcript: %w", err)
				}
			}
		}
	}
	if len(result.Media) == 0 {
		return StageResult{}, errors.Unretriable(fmt.Errorf("answer %s/%s has no trimmable media", sc.Job.Mentor, sc.Job.Question))
	}
	return result, nil
}

func (r *Runner) trimVideoInPlace(ctx context.Context, sc StageContext, m task.Media, trim *task.Trim) (task.Media, error) {
	local := filepath.Join(sc.WorkDir, m.Tag+".mp4")
	if err := r.Store.GetFile(ctx, m.URL, local); err != nil {
		return task.Media{}, fmt.Errorf("error downloading %s for trim: %w", m.URL, err)
	}
	trimmed := filepath.Join(sc.WorkDir, m.Tag+"-trim.mp4")
	if err := media.Trim(local, trimmed, trim.Start, trim.End); err != nil {
		return task.Media{}, err
	}
	if err := r.Store.PutFile(ctx, m.URL, trimmed, "video/mp4"); err != nil {
		return task.Media{}, fmt.Errorf("error re-uploading trimmed %s: %w", m.URL, err)
	}
	return task.Media{Type: m.Type, Tag: m.Tag, URL: m.URL}, nil
}

func (r *Runner) trimSubtitles(ctx context.Context, sc StageContext, m task.Media, trim *task.Trim) (*task.Media, string, error) {
	local := filepath.Join(sc.WorkDir, "en.vtt")
	if err := r.Store.GetFile(ctx, m.URL, local); err != nil {
		return nil, "", fmt.Errorf("error downloading %s for trim: %w", m.URL, err)
	}
	doc, err := os.ReadFile(local)
	if err != nil {
		return nil, "", fmt.Errorf("error reading subtitle file: %w", err)
	}
	trimmedDoc, newTranscript := media.TrimVTT(string(doc), trim.Start, trim.End)
	if trimmedDoc == "" {
		return nil, "", nil
	}
	if err := os.WriteFile(local, []byte(trimmedDoc), 0644); err != nil {
		return nil, "", fmt.Errorf("error writing trimmed subtitles: %w", err)
	}
	if err := r.Store.PutFile(ctx, m.URL, local, "text/vtt"); err != nil {
		return nil, "", fmt.Errorf("error re-uploading trimmed subtitles: %w", err)
	}
	return &task.Media{Type: m.Type, Tag: m.Tag, URL: m.URL}, newTranscript, nil
}
