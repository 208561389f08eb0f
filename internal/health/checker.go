package health

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// S3API is the S3 surface the checker probes.
type S3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

// DynamoDBAPI is the DynamoDB surface the checker probes.
type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// SQSAPI is the SQS surface the checker probes.
type SQSAPI interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// ToolProber verifies the external conversion tool responds.
type ToolProber interface {
	Probe(ctx context.Context) error
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Healthy bool           `json:"healthy"`
	Error   string         `json:"error,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Report aggregates dependency checks for /health and /ready.
type Report struct {
	Healthy   bool                   `json:"healthy"`
	Timestamp float64                `json:"timestamp"`
	Uptime    float64                `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker probes the worker's external dependencies. It holds no mutable
// state beyond its start time and never influences orchestration.
type Checker struct {
	s3        S3API
	dynamo    DynamoDBAPI
	queue     SQSAPI
	tool      ToolProber
	table     string
	queueURL  string
	workDir   string
	startTime time.Time
	logger    *slog.Logger
}

// NewChecker creates a dependency checker. queueURL may be empty in
// single-shot mode; the SQS checks are then skipped.
func NewChecker(s3c S3API, dynamo DynamoDBAPI, queue SQSAPI, tool ToolProber, table, queueURL, workDir string, logger *slog.Logger) *Checker {
	return &Checker{
		s3:        s3c,
		dynamo:    dynamo,
		queue:     queue,
		tool:      tool,
		table:     table,
		queueURL:  queueURL,
		workDir:   workDir,
		startTime: time.Now(),
		logger:    logger,
	}
}

// CheckHealth runs the liveness checks: workspace usability plus
// connectivity to each AWS dependency.
func (c *Checker) CheckHealth(ctx context.Context) Report {
	report := Report{
		Healthy:   true,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Uptime:    time.Since(c.startTime).Seconds(),
		Checks:    map[string]CheckResult{},
	}

	report.Checks["workspace"] = c.checkWorkspace()
	report.Checks["s3"] = c.checkS3(ctx)
	report.Checks["dynamodb"] = c.checkTable(ctx, false)
	if c.queueURL != "" {
		report.Checks["sqs"] = c.checkQueue(ctx)
	}

	for name, result := range report.Checks {
		if !result.Healthy {
			report.Healthy = false
			c.logger.Warn("Health check failed",
				slog.String("check", name),
				slog.String("error", result.Error),
			)
		}
	}
	return report
}

// CheckReadiness runs the readiness checks: the job table must be ACTIVE,
// the queue reachable, and the conversion tool responsive.
func (c *Checker) CheckReadiness(ctx context.Context) Report {
	report := Report{
		Healthy:   true,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Uptime:    time.Since(c.startTime).Seconds(),
		Checks:    map[string]CheckResult{},
	}

	report.Checks["dynamodb"] = c.checkTable(ctx, true)
	if c.queueURL != "" {
		report.Checks["sqs"] = c.checkQueue(ctx)
	}
	report.Checks["tool"] = c.checkTool(ctx)

	for name, result := range report.Checks {
		if !result.Healthy {
			report.Healthy = false
			c.logger.Warn("Readiness check failed",
				slog.String("check", name),
				slog.String("error", result.Error),
			)
		}
	}
	return report
}

// checkWorkspace verifies the work directory exists, is writable, and has
// at least one gigabyte free.
func (c *Checker) checkWorkspace() CheckResult {
	if err := os.MkdirAll(c.workDir, 0o755); err != nil {
		return CheckResult{Error: err.Error()}
	}

	probe := filepath.Join(c.workDir, ".health_check")
	if err := os.WriteFile(probe, []byte("health_check"), 0o644); err != nil {
		return CheckResult{Error: err.Error()}
	}
	_ = os.Remove(probe)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.workDir, &stat); err != nil {
		return CheckResult{Error: err.Error()}
	}
	freeGB := float64(stat.Bavail) * float64(stat.Bsize) / (1 << 30)

	return CheckResult{
		Healthy: freeGB > 1.0,
		Detail: map[string]any{
			"work_dir":      c.workDir,
			"writable":      true,
			"free_space_gb": freeGB,
		},
	}
}

func (c *Checker) checkS3(ctx context.Context) CheckResult {
	if _, err := c.s3.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		return CheckResult{Error: err.Error()}
	}
	return CheckResult{Healthy: true}
}

// checkTable probes the job table. With requireActive the table must report
// ACTIVE status, not merely exist.
func (c *Checker) checkTable(ctx context.Context, requireActive bool) CheckResult {
	out, err := c.dynamo.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.table),
	})
	if err != nil {
		return CheckResult{Error: err.Error()}
	}

	status := out.Table.TableStatus
	if requireActive && status != ddbtypes.TableStatusActive {
		return CheckResult{
			Error:  "table not active",
			Detail: map[string]any{"status": string(status)},
		}
	}
	return CheckResult{
		Healthy: true,
		Detail:  map[string]any{"status": string(status)},
	}
}

func (c *Checker) checkQueue(ctx context.Context) CheckResult {
	out, err := c.queue.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameQueueArn,
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		return CheckResult{Error: err.Error()}
	}
	return CheckResult{
		Healthy: true,
		Detail: map[string]any{
			"queue_arn":     out.Attributes[string(sqstypes.QueueAttributeNameQueueArn)],
			"message_count": out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)],
		},
	}
}

func (c *Checker) checkTool(ctx context.Context) CheckResult {
	if c.tool == nil {
		return CheckResult{Healthy: true}
	}
	if err := c.tool.Probe(ctx); err != nil {
		return CheckResult{Error: err.Error()}
	}
	return CheckResult{Healthy: true}
}
