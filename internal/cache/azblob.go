package cache

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

const blobPrefix = "promptlint/"

// BlobBackend keeps entries in an Azure Storage container as
// zstd-compressed promptlint/<namespace>/<key>.json.zst.
type BlobBackend struct {
	client    *azblob.Client
	container string
}

// NewBlobBackend connects to serviceURL (https://<account>.blob.core.windows.net/).
// A nil cred uses DefaultAzureCredential.
func NewBlobBackend(serviceURL, container string, cred azcore.TokenCredential) (*BlobBackend, error) {
	if serviceURL == "" {
		return nil, errors.New("azblob cache: url is required")
	}
	if container == "" {
		return nil, errors.New("azblob cache: container is required")
	}

	if cred == nil {
		var err error
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azblob cache: credential: %w", err)
		}
	}

	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azblob cache: %w", err)
	}
	return &BlobBackend{client: client, container: container}, nil
}

func (b *BlobBackend) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, blobName(ns, key), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("azblob get: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	compressed, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("azblob get: %w", err)
	}
	data, err := decompress(compressed)
	if err != nil {
		// corrupt entry, treat as a miss
		return nil, false, nil
	}
	return data, true, nil
}

func (b *BlobBackend) Put(ctx context.Context, ns Namespace, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}

	payload := compress(data)
	_, err := b.client.UploadBuffer(ctx, b.container, blobName(ns, key), payload, nil)
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		if _, cerr := b.client.CreateContainer(ctx, b.container, nil); cerr != nil && !bloberror.HasCode(cerr, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("azblob create container: %w", cerr)
		}
		_, err = b.client.UploadBuffer(ctx, b.container, blobName(ns, key), payload, nil)
	}
	if err != nil {
		return fmt.Errorf("azblob put: %w", err)
	}
	return nil
}

// Clear deletes every blob under the promptlint prefix. Other blobs in the
// container are left alone.
func (b *BlobBackend) Clear(ctx context.Context) error {
	prefix := blobPrefix
	pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return nil
			}
			return fmt.Errorf("azblob list: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if _, err := b.client.DeleteBlob(ctx, b.container, *item.Name, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
				return fmt.Errorf("azblob delete %s: %w", *item.Name, err)
			}
		}
	}
	return nil
}

func (b *BlobBackend) Close() error { return nil }

func blobName(ns Namespace, key string) string {
	return blobPrefix + string(ns) + "/" + key + fileExt
}
