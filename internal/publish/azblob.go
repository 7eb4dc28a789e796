package publish

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// Environment variables for Azure Blob Storage credentials. A connection
// string wins over a SAS token.
const (
	envAzureConnString = "AZURE_STORAGE_CONNECTION_STRING"
	envAzureSASToken   = "AZURE_STORAGE_SAS_TOKEN"
)

type azureBucket struct {
	client    *azblob.Client
	container string
}

func openAzure(t Target) (*azureBucket, error) {
	var (
		client *azblob.Client
		err    error
	)
	if conn := os.Getenv(envAzureConnString); conn != "" {
		client, err = azblob.NewClientFromConnectionString(conn, nil)
	} else {
		account := t.Params.Get("account")
		if account == "" {
			return nil, fmt.Errorf("azblob target: set %s or the account parameter", envAzureConnString)
		}
		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
		if sas := os.Getenv(envAzureSASToken); sas != "" {
			serviceURL += "?" + sas
		}
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create azblob client: %w", err)
	}
	return &azureBucket{client: client, container: t.Bucket}, nil
}

func (b *azureBucket) Put(ctx context.Context, key string, body []byte, meta Meta) error {
	_, err := b.client.UploadBuffer(ctx, b.container, key, body, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType:     ptrOrNil(meta.ContentType),
			BlobContentEncoding: ptrOrNil(meta.ContentEncoding),
			BlobCacheControl:    ptrOrNil(meta.CacheControl),
		},
	})
	return err
}

func (b *azureBucket) Close() error { return nil }
