package clients

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/mentorpal/mentor-upload-api/log"
)

// Object keys of an answer's media, all under a deterministic per-answer
// prefix so every stage can compute them independently.
func AnswerPrefix(mentor, question string) string {
	return fmt.Sprintf("videos/%s/%s", mentor, question)
}

func OriginalVideoKey(mentor, question string) string {
	return AnswerPrefix(mentor, question) + "/original.mp4"
}

func WebVideoKey(mentor, question string) string {
	return AnswerPrefix(mentor, question) + "/web.mp4"
}

func MobileVideoKey(mentor, question string) string {
	return AnswerPrefix(mentor, question) + "/mobile.mp4"
}

func SubtitleKey(mentor, question string) string {
	return AnswerPrefix(mentor, question) + "/en.vtt"
}

// ThumbnailKey is timestamped so browsers never serve a stale cached image.
func ThumbnailKey(mentor string, now time.Time) string {
	return fmt.Sprintf("mentor/thumbnails/%s/%s/thumbnail.png", mentor, now.UTC().Format("20060102T150405Z"))
}

// ObjectStore is the media artifact store. Keys are bucket-relative.
type ObjectStore interface {
	PutFile(ctx context.Context, key, localPath, contentType string) error
	GetFile(ctx context.Context, key, localPath string) error
	// DeleteMany removes the given keys, ignoring ones that do not exist.
	DeleteMany(ctx context.Context, keys []string) error
	List(ctx context.Context, prefix string) ([]string, error)
	// URLFor resolves a key to the public URL clients fetch media from.
	URLFor(key string) string
}

type S3Options struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	AccessKeySecret string
	// Base URL of the CDN/static host serving the bucket contents.
	StaticURLBase string
}

type s3Store struct {
	bucket        string
	staticURLBase string
	uploader      *s3manager.Uploader
	downloader    *s3manager.Downloader
	svc           *s3.S3
}

func NewS3ObjectStore(opts S3Options) (ObjectStore, error) {
	config := aws.NewConfig().WithRegion(opts.Region)
	if opts.AccessKeyID != "" {
		config = config.WithCredentials(credentials.NewStaticCredentials(opts.AccessKeyID, opts.AccessKeySecret, ""))
	}
	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("error creating AWS session: %w", err)
	}
	return &s3Store{
		bucket:        opts.Bucket,
		staticURLBase: strings.TrimSuffix(opts.StaticURLBase, "/"),
		uploader:      s3manager.NewUploader(sess),
		downloader:    s3manager.NewDownloader(sess),
		svc:           s3.New(sess),
	}, nil
}

func (s *s3Store) PutFile(ctx context.Context, key, localPath, contentType string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("error opening %s for upload: %w", localPath, err)
	}
	defer file.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("error uploading %s to s3://%s/%s: %w", localPath, s.bucket, key, err)
	}
	return nil
}

func (s *s3Store) GetFile(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("error creating download dir for %s: %w", localPath, err)
	}
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("error creating %s for download: %w", localPath, err)
	}
	defer file.Close()

	_, err = s.downloader.DownloadWithContext(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("error downloading s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *s3Store) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make([]*s3.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(key)})
	}
	// Quiet mode: S3 reports only real failures, deleting an absent key is
	// not one of them.
	out, err := s.svc.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("error deleting objects from s3://%s: %w", s.bucket, err)
	}
	for _, failure := range out.Errors {
		log.LogNoRequestID("failed to delete object", "bucket", s.bucket, "key", aws.StringValue(failure.Key), "code", aws.StringValue(failure.Code))
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("failed to delete %d objects from s3://%s", len(out.Errors), s.bucket)
	}
	return nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("error listing s3://%s/%s: %w", s.bucket, prefix, err)
	}
	return keys, nil
}

func (s *s3Store) URLFor(key string) string {
	return s.staticURLBase + "/" + key
}
