package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/repository"
)

// S3ResumeStore keeps resume blobs as objects named <prefix>/<escaped name>.fastresume.
type S3ResumeStore struct {
	client ObjectAPI
	bucket string
	prefix string
}

func NewS3ResumeStore(client ObjectAPI, bucket, prefix string) (*S3ResumeStore, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	return &S3ResumeStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *S3ResumeStore) key(name string) string {
	return objectKey(s.prefix, url.PathEscape(name)+".fastresume")
}

func (s *S3ResumeStore) Load(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noKey) || errors.As(err, &notFound) {
			return nil, fmt.Errorf("resume data for %q: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get resume object: %w", err)
	}
	defer out.Body.Close()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read resume object: %w", err)
	}
	return blob, nil
}

func (s *S3ResumeStore) Save(ctx context.Context, name string, blob []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(blob),
		ContentLength: aws.Int64(int64(len(blob))),
		ContentType:   aws.String("application/x-bittorrent"),
		ACL:           types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("put resume object: %w", err)
	}
	return nil
}

func (s *S3ResumeStore) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("delete resume object: %w", err)
	}
	return nil
}

var _ repository.ResumeRepository = (*S3ResumeStore)(nil)
