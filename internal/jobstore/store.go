package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/worker/domain"
)

const (
	statusCreatedAtIndex = "status-created_at-index"
	workerIDIndex        = "worker_id-index"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store provides typed point-read and partial-update access to job records.
type Store struct {
	db     DynamoDBAPI
	table  string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store backed by the given DynamoDB client.
func NewStore(db DynamoDBAPI, table string, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		table:  table,
		logger: logger,
		now:    time.Now,
	}
}

// Get retrieves a job record by id. A missing record is reported through the
// found flag, not an error.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, bool, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"job_id": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	if out.Item == nil {
		s.logger.Warn("Job not found in store",
			slog.String("job_id", jobID),
		)
		return nil, false, nil
	}

	var job domain.Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	s.logger.Debug("Job fetched",
		slog.String("job_id", jobID),
		slog.String("status", job.Status),
	)

	return &job, true, nil
}

// UpdateStatus writes the job's status, an updated_at timestamp and any
// supplied fields. Numeric values for the recognized timestamp fields are
// rendered into the fixed timezone string format; everything else goes
// through the generic attribute normalization. Failures are logged and
// reported as a false return; callers proceed on false (the in-memory job
// still carries the intended state).
func (s *Store) UpdateStatus(ctx context.Context, jobID, status string, fields map[string]any) bool {
	expr := "SET #status = :status, updated_at = :updated_at"
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status":     &types.AttributeValueMemberS{Value: status},
		":updated_at": &types.AttributeValueMemberS{Value: formatTimestamp(unixSeconds(s.now()))},
	}

	for key, value := range fields {
		if value == nil {
			continue
		}
		names["#"+key] = key
		expr += fmt.Sprintf(", #%s = :%s", key, key)

		if ts, ok := numericTimestamp(key, value); ok {
			values[":"+key] = &types.AttributeValueMemberS{Value: formatTimestamp(ts)}
			continue
		}

		av, err := normalizeValue(value)
		if err != nil {
			s.logger.Error("Failed to encode job field",
				slog.String("job_id", jobID),
				slog.String("field", key),
				slog.String("error", err.Error()),
			)
			return false
		}
		values[":"+key] = av
	}

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: jobID}},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		s.logger.Error("Failed to update job status",
			slog.String("job_id", jobID),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
		slog.Int("updated_fields", len(fields)),
	)
	return true
}

// IncrementRetry atomically adds 1 to the job's retry counter and returns
// the new count, or 0 on failure. The orchestration flow does not call this;
// it exists for an external retry policy.
func (s *Store) IncrementRetry(ctx context.Context, jobID string) int {
	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: jobID}},
		UpdateExpression: aws.String("ADD retry_count :inc SET updated_at = :updated_at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inc":        &types.AttributeValueMemberN{Value: "1"},
			":updated_at": &types.AttributeValueMemberN{Value: formatNumber(unixSeconds(s.now()))},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		s.logger.Error("Failed to increment retry count",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return 0
	}

	count := 0
	if av, ok := out.Attributes["retry_count"].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(av.Value); err == nil {
			count = n
		}
	}

	s.logger.Info("Retry count incremented",
		slog.String("job_id", jobID),
		slog.Int("retry_count", count),
	)
	return count
}

// QueryByStatus returns up to limit jobs in the given status, ordered by
// creation time ascending.
func (s *Store) QueryByStatus(ctx context.Context, status string, limit int32) ([]domain.Job, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		IndexName:                aws.String(statusCreatedAtIndex),
		KeyConditionExpression:   aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
		},
		Limit:            aws.Int32(limit),
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by status %s: %w", status, err)
	}

	var jobs []domain.Job
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &jobs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal jobs: %w", err)
	}
	return jobs, nil
}

// QueryByWorker returns up to limit jobs claimed by the given worker id.
func (s *Store) QueryByWorker(ctx context.Context, workerID string, limit int32) ([]domain.Job, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(workerIDIndex),
		KeyConditionExpression: aws.String("worker_id = :worker_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":worker_id": &types.AttributeValueMemberS{Value: workerID},
		},
		Limit: aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by worker %s: %w", workerID, err)
	}

	var jobs []domain.Job
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &jobs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal jobs: %w", err)
	}
	return jobs, nil
}
