package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client the queue wrapper uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Message is a queue-delivered envelope: the raw job payload plus the
// delivery metadata needed to acknowledge or defer it. It is transient and
// owned by the orchestration loop between receive and delete.
type Message struct {
	Body          []byte
	MessageID     string
	ReceiptHandle string
	SentAt        time.Time
}

// Stats holds approximate queue depth counters.
type Stats struct {
	Visible    int
	NotVisible int
	Delayed    int
}

// Client wraps the SQS queue holding pending jobs.
type Client struct {
	sqs      SQSAPI
	queueURL string
	logger   *slog.Logger
}

// NewClient creates a queue client for the given queue URL.
func NewClient(api SQSAPI, queueURL string, logger *slog.Logger) *Client {
	return &Client{
		sqs:      api,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Receive long-polls the queue for up to wait and returns at most max
// messages. The SentTimestamp delivery attribute is decoded so callers can
// compute queue wait time.
func (c *Client) Receive(ctx context.Context, max int32, wait time.Duration) ([]Message, error) {
	out, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   max,
		WaitTimeSeconds:       int32(wait / time.Second),
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameAll,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := Message{
			Body:          []byte(aws.ToString(m.Body)),
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
		if sent, ok := m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)]; ok {
			if ms, err := strconv.ParseInt(sent, 10, 64); err == nil {
				msg.SentAt = time.UnixMilli(ms)
			}
		}
		messages = append(messages, msg)
	}

	if len(messages) > 0 {
		c.logger.Info("Received queue messages",
			slog.Int("count", len(messages)),
		)
	}

	return messages, nil
}

// Delete acknowledges a message so it is not redelivered. Deleting an
// already-deleted message is a no-op on the queue side.
func (c *Client) Delete(ctx context.Context, msg Message) error {
	_, err := c.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", msg.MessageID, err)
	}

	c.logger.Info("Queue message deleted",
		slog.String("message_id", msg.MessageID),
	)
	return nil
}

// ExtendVisibility defers redelivery of an in-flight message.
func (c *Client) ExtendVisibility(ctx context.Context, msg Message, timeout time.Duration) error {
	_, err := c.sqs.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: int32(timeout / time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to change visibility of message %s: %w", msg.MessageID, err)
	}

	c.logger.Info("Message visibility extended",
		slog.String("message_id", msg.MessageID),
		slog.Duration("timeout", timeout),
	)
	return nil
}

// Attributes returns approximate depth counters for reporting.
func (c *Client) Attributes(ctx context.Context) (Stats, error) {
	out, err := c.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get queue attributes: %w", err)
	}

	return Stats{
		Visible:    atoiAttr(out.Attributes, types.QueueAttributeNameApproximateNumberOfMessages),
		NotVisible: atoiAttr(out.Attributes, types.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed:    atoiAttr(out.Attributes, types.QueueAttributeNameApproximateNumberOfMessagesDelayed),
	}, nil
}

// Send enqueues a job payload. Used by operational re-enqueue tooling and
// tests; the worker itself never publishes.
func (c *Client) Send(ctx context.Context, body any, groupID, dedupID string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(data)),
	}
	if groupID != "" {
		input.MessageGroupId = aws.String(groupID)
	}
	if dedupID != "" {
		input.MessageDeduplicationId = aws.String(dedupID)
	}

	out, err := c.sqs.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	c.logger.Info("Queue message sent",
		slog.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

func atoiAttr(attrs map[string]string, name types.QueueAttributeName) int {
	n, err := strconv.Atoi(attrs[string(name)])
	if err != nil {
		return 0
	}
	return n
}
