package publish

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type gcsBucket struct {
	client *storage.Client
	handle *storage.BucketHandle
}

func openGCS(ctx context.Context, t Target) (*gcsBucket, error) {
	var opts []option.ClientOption
	if endpoint := t.Params.Get("endpoint"); endpoint != "" {
		// Emulators such as fake-gcs-server take no credentials.
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &gcsBucket{client: client, handle: client.Bucket(t.Bucket)}, nil
}

func (b *gcsBucket) Put(ctx context.Context, key string, body []byte, meta Meta) error {
	w := b.handle.Object(key).NewWriter(ctx)
	w.ContentType = meta.ContentType
	w.ContentEncoding = meta.ContentEncoding
	w.CacheControl = meta.CacheControl

	if _, err := w.Write(body); err != nil {
		return errors.Join(err, w.Close())
	}
	return w.Close()
}

func (b *gcsBucket) Close() error {
	return b.client.Close()
}
