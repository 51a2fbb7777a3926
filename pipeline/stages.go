package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/errors"
	"github.com/mentorpal/mentor-upload-api/media"
	"github.com/mentorpal/mentor-upload-api/task"
)

// TranscodeWebStage produces the 16:9 web rendition of the original video
// and publishes it under the answer's web slot.
func (r *Runner) TranscodeWebStage(ctx context.Context, sc StageContext) (StageResult, error) {
	width, height := media.Dims(ctx, sc.LocalVideo)
	if width <= 0 || height <= 0 {
		return StageResult{}, errors.Unretriable(fmt.Errorf("no video track in %s", sc.Job.Video))
	}

	webFile := filepath.Join(sc.WorkDir, "web.mp4")
	if err := media.EncodeWeb(sc.LocalVideo, webFile, width, height); err != nil {
		return StageResult{}, err
	}

	key := clients.WebVideoKey(sc.Job.Mentor, sc.Job.Question)
	if err := r.Store.PutFile(ctx, key, webFile, "video/mp4"); err != nil {
		return StageResult{}, err
	}

	webMedia := task.Media{Type: task.MediaTypeVideo, Tag: task.TagWeb, URL: key}
	return StageResult{
		Media: []task.Media{webMedia},
		Patch: &clients.MediaPatch{WebMedia: &webMedia},
	}, nil
}

// TranscodeMobileStage produces the square mobile rendition.
func (r *Runner) TranscodeMobileStage(ctx context.Context, sc StageContext) (StageResult, error) {
	width, height := media.Dims(ctx, sc.LocalVideo)
	if width <= 0 || height <= 0 {
		return StageResult{}, errors.Unretriable(fmt.Errorf("no video track in %s", sc.Job.Video))
	}

	mobileFile := filepath.Join(sc.WorkDir, "mobile.mp4")
	if err := media.EncodeMobile(sc.LocalVideo, mobileFile, width, height); err != nil {
		return StageResult{}, err
	}

	key := clients.MobileVideoKey(sc.Job.Mentor, sc.Job.Question)
	if err := r.Store.PutFile(ctx, key, mobileFile, "video/mp4"); err != nil {
		return StageResult{}, err
	}

	mobileMedia := task.Media{Type: task.MediaTypeVideo, Tag: task.TagMobile, URL: key}
	return StageResult{
		Media: []task.Media{mobileMedia},
		Patch: &clients.MediaPatch{MobileMedia: &mobileMedia},
	}, nil
}
