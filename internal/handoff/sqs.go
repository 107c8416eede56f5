package handoff

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink publishes handoffs as JSON to a staff work queue.
type SQSSink struct {
	client   sqsAPI
	queueURL string
}

func NewSQSSink(client sqsAPI, queueURL string) *SQSSink {
	if client == nil {
		panic("handoff: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("handoff: SQS queueURL cannot be empty")
	}
	return &SQSSink{client: client, queueURL: queueURL}
}

func (s *SQSSink) Handoff(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("handoff: marshal request: %w", err)
	}
	attrs := map[string]types.MessageAttributeValue{
		"tenant_id": {DataType: aws.String("String"), StringValue: aws.String(req.TenantID)},
		"reason":    {DataType: aws.String("String"), StringValue: aws.String(string(req.Reason))},
	}
	if req.Department != "" {
		attrs["department"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(req.Department)}
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("handoff: send SQS message: %w", err)
	}
	return nil
}
