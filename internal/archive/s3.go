package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

type s3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Sink(ctx context.Context) (Sink, error) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET required when enabling s3 sink")
	}
	prefix := os.Getenv("S3_PREFIX")
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &s3Sink{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *s3Sink) Name() string {
	return "s3"
}

func (s *s3Sink) Store(ctx context.Context, doc retrieval.Document, payload []byte) error {
	key := s.keyFor(doc)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
		ACL:    types.ObjectCannedACLPrivate,
		Metadata: map[string]string{
			"tenant_id": doc.Tenant,
			"doc_id":    doc.ID,
		},
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *s3Sink) keyFor(doc retrieval.Document) string {
	name := doc.ID + ".json"
	if s.prefix == "" {
		return path.Join(doc.Tenant, name)
	}
	return path.Join(s.prefix, doc.Tenant, name)
}
