package clients

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/mentorpal/mentor-upload-api/task"
)

// QueueMessage is one received fan-out job plus the handle needed to ack it.
type QueueMessage struct {
	Job           task.Job
	ReceiptHandle string
}

// Queue is the worker side of the fan-out bus: each stage worker long-polls
// its own queue subscribed to the upload topic.
type Queue interface {
	Receive(ctx context.Context) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type QueueOptions struct {
	Region          string
	AccessKeyID     string
	AccessKeySecret string
	QueueURL        string
}

type sqsQueue struct {
	queueURL string
	svc      *sqs.SQS
}

func NewSQSQueue(opts QueueOptions) (Queue, error) {
	if opts.QueueURL == "" {
		return nil, fmt.Errorf("no SQS queue URL configured")
	}
	config := aws.NewConfig().WithRegion(opts.Region)
	if opts.AccessKeyID != "" {
		config = config.WithCredentials(credentials.NewStaticCredentials(opts.AccessKeyID, opts.AccessKeySecret, ""))
	}
	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("error creating AWS session: %w", err)
	}
	return &sqsQueue{queueURL: opts.QueueURL, svc: sqs.New(sess)}, nil
}

func (q *sqsQueue) Receive(ctx context.Context) ([]QueueMessage, error) {
	out, err := q.svc.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: aws.Int64(1),
		WaitTimeSeconds:     aws.Int64(20),
	})
	if err != nil {
		return nil, fmt.Errorf("error receiving from %s: %w", q.queueURL, err)
	}
	var messages []QueueMessage
	for _, msg := range out.Messages {
		job, err := ParseJobMessage([]byte(aws.StringValue(msg.Body)))
		if err != nil {
			return nil, fmt.Errorf("error parsing queue message: %w", err)
		}
		messages = append(messages, QueueMessage{
			Job:           job,
			ReceiptHandle: aws.StringValue(msg.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *sqsQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.svc.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("error deleting message from %s: %w", q.queueURL, err)
	}
	return nil
}

// snsEnvelope is the wrapper SNS puts around the published payload when the
// queue subscription does not use raw message delivery.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// ParseJobMessage unwraps the optional SNS notification envelope and decodes
// the fan-out job.
func ParseJobMessage(body []byte) (task.Job, error) {
	payload := body
	var envelope snsEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		payload = []byte(envelope.Message)
	}
	var jobEnvelope task.JobEnvelope
	if err := json.Unmarshal(payload, &jobEnvelope); err != nil {
		return task.Job{}, fmt.Errorf("error decoding job payload: %w", err)
	}
	if jobEnvelope.Request.Mentor == "" || jobEnvelope.Request.Question == "" {
		return task.Job{}, fmt.Errorf("job payload missing mentor or question")
	}
	return jobEnvelope.Request, nil
}
