package domain

// Job is one document-processing request tracked in the job table.
// Location fields are immutable once the job is created; lifecycle fields
// are written only by the worker that claimed the job.
type Job struct {
	JobID        string `json:"job_id" dynamodbav:"job_id"`
	DataBucket   string `json:"data_bucket" dynamodbav:"data_bucket"`
	InputKey     string `json:"input_key" dynamodbav:"input_key"`
	OutputPrefix string `json:"output_prefix" dynamodbav:"output_prefix"`

	Status         string            `json:"status,omitempty" dynamodbav:"status"`
	WorkerID       string            `json:"worker_id,omitempty" dynamodbav:"worker_id"`
	ReceivedAt     string            `json:"received_at,omitempty" dynamodbav:"received_at"`
	StartedAt      string            `json:"started_at,omitempty" dynamodbav:"started_at"`
	CompletedAt    string            `json:"completed_at,omitempty" dynamodbav:"completed_at"`
	FailedAt       string            `json:"failed_at,omitempty" dynamodbav:"failed_at"`
	QueueWaitTime  float64           `json:"queue_wait_time,omitempty" dynamodbav:"queue_wait_time"`
	ProcessingTime float64           `json:"processing_time,omitempty" dynamodbav:"processing_time"`
	RetryCount     int               `json:"retry_count,omitempty" dynamodbav:"retry_count"`
	ErrorMessage   string            `json:"error_message,omitempty" dynamodbav:"error_message"`
	Result         *ProcessingResult `json:"result,omitempty" dynamodbav:"result"`
}

// Job lifecycle statuses. Transitions are monotone along
// pending -> processing -> {completed | failed | interrupted}.
const (
	StatusPending     = "pending"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// OutputFile describes one uploaded artifact.
type OutputFile struct {
	FileName string `json:"file_name" dynamodbav:"file_name"`
	FileType string `json:"file_type" dynamodbav:"file_type"`
	S3URL    string `json:"s3_url" dynamodbav:"s3_url"`
	Size     int64  `json:"size" dynamodbav:"size"`
}

// ProcessingResult is the structured manifest recorded on successful jobs.
type ProcessingResult struct {
	Status              string       `json:"status" dynamodbav:"status"`
	InputFile           string       `json:"input_file" dynamodbav:"input_file"`
	OutputFiles         []OutputFile `json:"output_files" dynamodbav:"output_files"`
	FileSize            int64        `json:"file_size" dynamodbav:"file_size"`
	PagesProcessed      int          `json:"pages_processed" dynamodbav:"pages_processed"`
	ProcessingTime      float64      `json:"processing_time" dynamodbav:"processing_time"`
	DownloadTime        float64      `json:"download_time" dynamodbav:"download_time"`
	UploadTime          float64      `json:"upload_time" dynamodbav:"upload_time"`
	TotalFilesGenerated int          `json:"total_files_generated" dynamodbav:"total_files_generated"`
}
