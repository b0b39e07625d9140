package storage

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ExportOptions conveys upload destination metadata.
type ExportOptions struct {
	Bucket           string
	KeyPrefix        string
	ProgressCallback func(done, total int64)
}

// Exporter uploads completed downloads to remote object storage.
type Exporter interface {
	Export(ctx context.Context, localPath string, opts ExportOptions) (string, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) error
}

// ObjectAPI is the subset of the S3 client used by this package.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

var _ ObjectAPI = (*s3.Client)(nil)
