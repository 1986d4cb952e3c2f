package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 stores snapshots as objects in a single bucket (AWS S3 or MinIO), one
// object per (stage, service). Credentials follow the default chain.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds explicit construction parameters; production deployments
// normally configure through environment variables instead.
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string
	Endpoint  string // optional; enables custom endpoint (e.g. MinIO)
	PathStyle bool
}

// Environment variables:
//
//	PISA_SNAPSHOT_S3_BUCKET=<bucket> (required)
//	PISA_SNAPSHOT_S3_REGION=<region> (default us-east-1)
//	PISA_SNAPSHOT_S3_PREFIX=<key prefix> (default "nominal/")
//	PISA_SNAPSHOT_S3_ENDPOINT=<url> (optional, for MinIO)
//	PISA_SNAPSHOT_S3_PATH_STYLE=true|false (default false)

// NewS3 creates an S3 snapshot store from S3Config.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "nominal/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// OpenS3FromEnv constructs an S3 store from process environment.
func OpenS3FromEnv(ctx context.Context) (*S3, error) {
	bucket := os.Getenv("PISA_SNAPSHOT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("PISA_SNAPSHOT_S3_BUCKET required for s3 driver")
	}
	cfg := S3Config{
		Bucket:    bucket,
		Region:    os.Getenv("PISA_SNAPSHOT_S3_REGION"),
		Prefix:    os.Getenv("PISA_SNAPSHOT_S3_PREFIX"),
		Endpoint:  os.Getenv("PISA_SNAPSHOT_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("PISA_SNAPSHOT_S3_PATH_STYLE"), "true"),
	}
	return NewS3(ctx, cfg)
}

// Driver implements Store.
func (s *S3) Driver() Driver { return DriverS3 }

func (s *S3) keyFor(stage, service string) (string, error) {
	if err := validateKey(stage, service); err != nil {
		return "", err
	}
	return s.prefix + stage + "/" + service + ".json", nil
}

// Save implements Store.
func (s *S3) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	key, err := s.keyFor(rec.Stage, rec.Service)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	contentType := "application/json"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put snapshot object: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *S3) Load(ctx context.Context, stage, service string) (Record, bool, error) {
	key, err := s.keyFor(stage, service)
	if err != nil {
		return Record{}, false, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get snapshot object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, false, fmt.Errorf("read snapshot object: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete implements Store.
func (s *S3) Delete(ctx context.Context, stage, service string) (bool, error) {
	key, err := s.keyFor(stage, service)
	if err != nil {
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, err
	}
	return true, nil
}
