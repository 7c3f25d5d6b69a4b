package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"
)

// S3 is the durable remote tier.
type S3 struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string

	svc *s3.S3
}

// NewS3FromEnv reads the S3 connection settings from the environment.
func NewS3FromEnv(log logrus.FieldLogger) (*S3, error) {
	endpoint, exists := os.LookupEnv("S3_HOSTNAME")
	if !exists {
		return nil, fmt.Errorf("missing env var S3_HOSTNAME")
	}
	region, exists := os.LookupEnv("S3_REGION")
	if !exists {
		region = "auto"
	}
	access, exists := os.LookupEnv("S3_ACCESS")
	if !exists {
		return nil, fmt.Errorf("missing env var S3_ACCESS")
	}
	secret, exists := os.LookupEnv("S3_SECRET")
	if !exists {
		return nil, fmt.Errorf("missing env var S3_SECRET")
	}
	bucket, exists := os.LookupEnv("S3_BUCKET")
	if !exists {
		return nil, fmt.Errorf("missing env var S3_BUCKET")
	}

	log.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"region":   region,
		"access":   access[:4],
		"bucket":   bucket,
	}).Infoln("s3 configuration")

	return NewS3(endpoint, region, access, secret, bucket)
}

// NewS3 connects to the bucket with static credentials.
func NewS3(endpoint, region, access, secret, bucket string) (*S3, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Endpoint:    aws.String(endpoint),
		Credentials: credentials.NewStaticCredentials(access, secret, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to s3; %w", err)
	}

	return &S3{
		Endpoint:  endpoint,
		Region:    region,
		AccessKey: access,
		SecretKey: secret,
		Bucket:    bucket,
		svc:       s3.New(sess),
	}, nil
}

// Exists checks the key via HeadObject. Zero-byte objects do not count
// as existing: a key only blocks a re-run when it holds real audio.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	out, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return false, nil
			}
		}
		return false, fmt.Errorf("failed headobject; %w", err)
	}
	if out.ContentLength != nil && *out.ContentLength == 0 {
		return false, nil
	}
	return true, nil
}

// Write uploads the artifact with its audit metadata attached.
func (s *S3) Write(ctx context.Context, key string, data []byte, meta Metadata) error {
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("audio/wav"),
		Metadata: map[string]*string{
			"intent":   aws.String(meta.Intent),
			"language": aws.String(meta.Language),
			"voice":    aws.String(meta.Voice),
			"phrase":   aws.String(meta.Phrase),
		},
	})
	if err != nil {
		return fmt.Errorf("failed putobject; %w", err)
	}
	return nil
}

func (s *S3) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
			}
		}
		return nil, fmt.Errorf("failed getobject; %w", err)
	}
	defer out.Body.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("failed to read object body; %w", err)
	}
	return buf.Bytes(), nil
}

// List returns every key under prefix, following pagination.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects; %w", err)
	}
	return keys, nil
}
