package processor

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobClient is the get/put blob interface the invoker stages files through.
type BlobClient interface {
	Download(ctx context.Context, bucket, key, destPath string) (int64, error)
	Upload(ctx context.Context, bucket, key, srcPath, contentType string, metadata map[string]string) error
}

// S3Blob implements BlobClient against S3 using the transfer manager.
type S3Blob struct {
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3Blob creates an S3-backed blob client.
func NewS3Blob(client *s3.Client) *S3Blob {
	return &S3Blob{
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}
}

// Download fetches s3://bucket/key into destPath and returns the byte count.
func (b *S3Blob) Download(ctx context.Context, bucket, key, destPath string) (int64, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer f.Close()

	n, err := b.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	return n, nil
}

// Upload stores srcPath at s3://bucket/key with the given content type and
// object metadata.
func (b *S3Blob) Upload(ctx context.Context, bucket, key, srcPath, contentType string, metadata map[string]string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer f.Close()

	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
