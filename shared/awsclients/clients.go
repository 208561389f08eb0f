package awsclients

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients bundles the AWS service clients the worker uses. They are
// constructed once at process start and shared for the process lifetime.
type Clients struct {
	SQS      *sqs.Client
	DynamoDB *dynamodb.Client
	S3       *s3.Client
}

// New resolves the default AWS configuration chain (task role, env, shared
// config) and builds the service clients.
func New(ctx context.Context, logger *slog.Logger) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("AWS clients initialized",
		slog.String("region", cfg.Region),
	)

	return &Clients{
		SQS:      sqs.NewFromConfig(cfg),
		DynamoDB: dynamodb.NewFromConfig(cfg),
		S3:       s3.NewFromConfig(cfg),
	}, nil
}
