package archive

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

type azureSink struct {
	client    *azblob.Client
	container string
	prefix    string
}

func NewAzureBlobSink(ctx context.Context) (Sink, error) {
	account := os.Getenv("AZURE_STORAGE_ACCOUNT")
	key := os.Getenv("AZURE_STORAGE_KEY")
	container := os.Getenv("AZURE_BLOB_CONTAINER")
	if account == "" || key == "" || container == "" {
		return nil, fmt.Errorf("AZURE_STORAGE_ACCOUNT/AZURE_STORAGE_KEY/AZURE_BLOB_CONTAINER required for azure sink")
	}
	prefix := os.Getenv("AZURE_BLOB_PREFIX")
	credential, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("build shared key credential: %w", err)
	}
	url := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := azblob.NewClientWithSharedKeyCredential(url, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	return &azureSink{
		client:    client,
		container: container,
		prefix:    prefix,
	}, nil
}

func (a *azureSink) Name() string {
	return "azure"
}

func (a *azureSink) Store(ctx context.Context, doc retrieval.Document, payload []byte) error {
	blobName := a.keyFor(doc)
	_, err := a.client.UploadBuffer(ctx, a.container, blobName, payload, nil)
	return err
}

func (a *azureSink) keyFor(doc retrieval.Document) string {
	name := doc.ID + ".json"
	if a.prefix == "" {
		return path.Join(doc.Tenant, name)
	}
	return path.Join(a.prefix, doc.Tenant, name)
}
