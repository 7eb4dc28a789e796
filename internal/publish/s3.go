package publish

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Environment variables holding static keys for S3-compatible stores that
// are not reachable through the default AWS credential chain.
const (
	envS3AccessKey = "SITEPACK_S3_ACCESS_KEY_ID"
	envS3SecretKey = "SITEPACK_S3_SECRET_ACCESS_KEY"
)

type s3Bucket struct {
	client *s3.Client
	name   string
}

func openS3(ctx context.Context, t Target) (*s3Bucket, error) {
	var opts []func(*awsConfig.LoadOptions) error
	if region := t.Params.Get("region"); region != "" {
		opts = append(opts, awsConfig.WithRegion(region))
	}
	if id, secret := os.Getenv(envS3AccessKey), os.Getenv(envS3SecretKey); id != "" && secret != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			awsCreds.NewStaticCredentialsProvider(id, secret, "")))
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := t.Params.Get("endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Bucket{client: client, name: t.Bucket}, nil
}

func (b *s3Bucket) Put(ctx context.Context, key string, body []byte, meta Meta) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(b.name),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String(meta.ContentType),
		ContentEncoding: ptrOrNil(meta.ContentEncoding),
		CacheControl:    ptrOrNil(meta.CacheControl),
	})
	return err
}

func (b *s3Bucket) Close() error { return nil }

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
