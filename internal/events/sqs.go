package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// SQSAPI is the subset of the SQS client used by SQSSink.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

const sqsSendTimeout = 2 * time.Second

// SQSSink publishes event envelopes to the trace queue for analytics.
type SQSSink struct {
	client   SQSAPI
	queueURL string
	logger   *logging.Logger
}

func NewSQSSink(client SQSAPI, queueURL string, logger *logging.Logger) *SQSSink {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSSink{client: client, queueURL: queueURL, logger: logger}
}

// Emit sends synchronously with a short timeout detached from the turn's
// cancellation, so an aborted turn still leaves its trace.
func (s *SQSSink) Emit(ctx context.Context, evt Event) {
	env, err := NewEnvelope(evt)
	if err != nil {
		s.logger.Warn("events: envelope rejected", "type", evt.Type, "error", err)
		return
	}
	body, err := json.Marshal(env)
	if err != nil {
		s.logger.Warn("events: marshal envelope failed", "type", evt.Type, "error", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sqsSendTimeout)
	defer cancel()
	_, err = s.client.SendMessage(sendCtx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(evt.Type))},
			"tenant_id":  {DataType: aws.String("String"), StringValue: aws.String(evt.TenantID)},
		},
	})
	if err != nil {
		s.logger.Error("events: failed to send SQS message", "type", evt.Type, "call_id", evt.CallID, "error", err)
	}
}
