package clients

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/task"
)

// Publisher fans an ingested job out to the stage workers. Each worker
// queue is subscribed to the topic and receives its own copy.
type Publisher interface {
	PublishJob(ctx context.Context, job task.Job) error
}

type PublisherOptions struct {
	Region          string
	AccessKeyID     string
	AccessKeySecret string
	// Topic ARN, set directly or resolved from the SSM parameter below.
	TopicArn string
	// SSM parameter holding the topic ARN, e.g.
	// /mentorpal/prod/shared/upload_sns_arn. Used when TopicArn is empty.
	TopicArnSSMPath string
}

type snsPublisher struct {
	topicArn string
	svc      *sns.SNS
}

func NewSNSPublisher(opts PublisherOptions) (Publisher, error) {
	config := aws.NewConfig().WithRegion(opts.Region)
	if opts.AccessKeyID != "" {
		config = config.WithCredentials(credentials.NewStaticCredentials(opts.AccessKeyID, opts.AccessKeySecret, ""))
	}
	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("error creating AWS session: %w", err)
	}

	topicArn := opts.TopicArn
	if topicArn == "" {
		if opts.TopicArnSSMPath == "" {
			return nil, fmt.Errorf("no SNS topic ARN or SSM path configured")
		}
		out, err := ssm.New(sess).GetParameter(&ssm.GetParameterInput{
			Name: aws.String(opts.TopicArnSSMPath),
		})
		if err != nil {
			return nil, fmt.Errorf("error resolving SNS topic ARN from %s: %w", opts.TopicArnSSMPath, err)
		}
		topicArn = aws.StringValue(out.Parameter.Value)
	}

	return &snsPublisher{topicArn: topicArn, svc: sns.New(sess)}, nil
}

func (p *snsPublisher) PublishJob(ctx context.Context, job task.Job) error {
	payload, err := json.Marshal(task.JobEnvelope{Request: job})
	if err != nil {
		return fmt.Errorf("error marshalling job for %s/%s: %w", job.Mentor, job.Question, err)
	}
	out, err := p.svc.PublishWithContext(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicArn),
		Message:  aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("error publishing job for %s/%s: %w", job.Mentor, job.Question, err)
	}
	log.LogNoRequestID("published upload job", "mentor", job.Mentor, "question", job.Question, "message_id", aws.StringValue(out.MessageId))
	return nil
}
