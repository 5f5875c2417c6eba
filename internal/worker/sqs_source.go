package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

// SQSAPI is the subset of the SQS client used by SQSSource.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSSourceConfig holds configuration for SQSSource.
type SQSSourceConfig struct {
	// QueueURL is the input queue
	QueueURL string

	// ResultQueueURL receives one message per finished job (optional)
	ResultQueueURL string

	Region string

	// WaitSeconds is the long-poll duration, at most 20 (default: 5)
	WaitSeconds int32

	// VisibilityTimeout hides a received message from other workers (default: 300s)
	VisibilityTimeout int32

	// MaxAttempts is the receive count after which a failing job is dropped
	// with a failure result (default: 3)
	MaxAttempts int

	WorkerID string
	Logger   zerolog.Logger

	// Client overrides the AWS client (tests)
	Client SQSAPI
}

// SQSSource implements JobSource for AWS SQS.
type SQSSource struct {
	config SQSSourceConfig
	client SQSAPI
	logger zerolog.Logger
}

// sqsJobBody is the JSON body of an input message.
type sqsJobBody struct {
	JobID string         `json:"jobId"`
	Type  string         `json:"type"`
	Owner string         `json:"owner,omitempty"`
	Input map[string]any `json:"input"`
}

// sqsResultBody is the JSON body sent to the result queue.
type sqsResultBody struct {
	JobID       string         `json:"jobId"`
	Type        string         `json:"type"`
	Owner       string         `json:"owner,omitempty"`
	Status      string         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	CacheHit    bool           `json:"cache_hit"`
	WorkerID    string         `json:"worker_id,omitempty"`
	CompletedAt string         `json:"completed_at"`
}

// NewSQSSource creates a new SQS job source.
func NewSQSSource(cfg SQSSourceConfig) *SQSSource {
	if cfg.WaitSeconds == 0 {
		cfg.WaitSeconds = 5
	}
	if cfg.WaitSeconds > 20 {
		cfg.WaitSeconds = 20
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 300
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	return &SQSSource{
		config: cfg,
		client: cfg.Client,
		logger: cfg.Logger.With().Str("source", "sqs").Logger(),
	}
}

// Name returns the source identifier.
func (s *SQSSource) Name() string {
	return "sqs"
}

// Connect loads AWS credentials from the default chain.
func (s *SQSSource) Connect(ctx context.Context) error {
	if s.config.QueueURL == "" {
		return fmt.Errorf("sqs queue url not configured")
	}
	if s.client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.config.Region))
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		s.client = sqs.NewFromConfig(awsCfg)
	}
	s.logger.Info().Str("queue", s.config.QueueURL).Str("result_queue", s.config.ResultQueueURL).
		Msg("connected to SQS")
	return nil
}

// Claim receives up to max messages (SQS caps a receive at 10).
func (s *SQSSource) Claim(ctx context.Context, max int) ([]*Job, error) {
	if max <= 0 {
		return nil, nil
	}
	if max > 10 {
		max = 10
	}

	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.config.QueueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     s.config.WaitSeconds,
		VisibilityTimeout:   s.config.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive from SQS: %w", err)
	}

	jobs := make([]*Job, 0, len(out.Messages))
	for _, msg := range out.Messages {
		job, err := s.convertMessage(msg)
		if err != nil {
			// Undecodable bodies can never succeed; drop them with a failure result.
			s.logger.Error().Err(err).Str("message_id", aws.ToString(msg.MessageId)).Msg("dropping malformed message")
			s.sendResult(ctx, &sqsResultBody{
				JobID:     aws.ToString(msg.MessageId),
				Status:    "failed",
				Error:     err.Error(),
				ErrorKind: "invalid_input",
			})
			s.delete(ctx, aws.ToString(msg.ReceiptHandle))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *SQSSource) convertMessage(msg types.Message) (*Job, error) {
	var body sqsJobBody
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &body); err != nil {
		return nil, fmt.Errorf("failed to parse message body: %w", err)
	}
	if body.JobID == "" {
		body.JobID = aws.ToString(msg.MessageId)
	}
	if body.Input == nil {
		body.Input = map[string]any{}
	}

	job := &Job{
		ID:        body.JobID,
		Type:      body.Type,
		Input:     body.Input,
		Owner:     body.Owner,
		Source:    "sqs",
		MessageID: aws.ToString(msg.MessageId),
		Metadata: JobMetadata{
			Attempts:      1,
			MaxAttempts:   s.config.MaxAttempts,
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		},
	}
	if n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		job.Metadata.Attempts = n
	}
	if ms, err := strconv.ParseInt(msg.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
		job.Metadata.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return job, nil
}

// Ack sends the result to the result queue and deletes the message.
func (s *SQSSource) Ack(ctx context.Context, job *Job, result *JobResult) error {
	body := &sqsResultBody{JobID: job.ID, Type: job.Type, Owner: job.Owner, Status: "completed"}
	if result != nil {
		body.Result = result.Output
		body.CacheHit = result.CacheHit
	}
	if err := s.sendResult(ctx, body); err != nil {
		// Keep the message so the result is not lost; it will be redelivered.
		return err
	}
	return s.delete(ctx, job.Metadata.ReceiptHandle)
}

// Nack makes retryable failures visible again immediately. Final failures
// are reported to the result queue and deleted.
func (s *SQSSource) Nack(ctx context.Context, job *Job, result *JobResult) error {
	if result.Retryable() && job.Metadata.Attempts < s.config.MaxAttempts {
		_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(s.config.QueueURL),
			ReceiptHandle:     aws.String(job.Metadata.ReceiptHandle),
			VisibilityTimeout: 0,
		})
		if err != nil {
			return fmt.Errorf("failed to release message: %w", err)
		}
		return nil
	}

	body := &sqsResultBody{JobID: job.ID, Type: job.Type, Owner: job.Owner, Status: "failed"}
	if result != nil {
		body.ErrorKind = result.ErrorKind
		if result.Error != nil {
			body.Error = result.Error.Error()
		}
	}
	if err := s.sendResult(ctx, body); err != nil {
		return err
	}
	return s.delete(ctx, job.Metadata.ReceiptHandle)
}

// Depth returns ApproximateNumberOfMessages of the input queue.
func (s *SQSSource) Depth(ctx context.Context) (int64, error) {
	name := types.QueueAttributeNameApproximateNumberOfMessages
	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(s.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{name},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read queue attributes: %w", err)
	}
	n, err := strconv.ParseInt(out.Attributes[string(name)], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s attribute: %w", name, err)
	}
	return n, nil
}

// Close is a no-op; the AWS client holds no connection.
func (s *SQSSource) Close() error {
	return nil
}

func (s *SQSSource) delete(ctx context.Context, receiptHandle string) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.config.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *SQSSource) sendResult(ctx context.Context, body *sqsResultBody) error {
	if s.config.ResultQueueURL == "" {
		return nil
	}
	body.WorkerID = s.config.WorkerID
	body.CompletedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.config.ResultQueueURL),
		MessageBody: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to result queue: %w", err)
	}
	return nil
}

var _ JobSource = (*SQSSource)(nil)
