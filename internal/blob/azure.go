package blob

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobtypes "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

type azureUploader struct {
	client    *azblob.Client
	container string
}

func newAzureUploader(cfg Config) (*azureUploader, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure credential: %w", err)
	}

	url := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClient(url, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}

	return &azureUploader{client: client, container: cfg.Bucket}, nil
}

func (u *azureUploader) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := u.client.UploadBuffer(ctx, u.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &azblobtypes.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", u.container, key, err)
	}
	return nil
}
