package staging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
	"github.com/wehubfusion/Arachne/pkg/record"
)

// AzureStore stages chunks as gzip-compressed JSON Lines blobs under a
// run-scoped prefix. Shared-key authentication from a standard connection
// string keeps it compatible with local Azurite instances over HTTP.
type AzureStore struct {
	client    *azblob.Client
	container string
	prefix    string
	logger    *zap.Logger

	mu            sync.Mutex
	containerInit bool
}

// NewAzureStore creates a blob-backed store from a standard Azure storage
// connection string. Each store instance writes under its own prefix so
// concurrent runs against the same container cannot collide.
func NewAzureStore(connectionString, container string, logger *zap.Logger) (*AzureStore, error) {
	if connectionString == "" {
		return nil, sdkerrors.NewStagingError("connection string is required", nil)
	}
	if container == "" {
		return nil, sdkerrors.NewStagingError("container name is required", nil)
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, sdkerrors.NewStagingError("account name and key are required in the connection string", nil)
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, sdkerrors.NewStagingError("failed to create shared key credential", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, sdkerrors.NewStagingError("failed to create blob client", err)
	}

	return &AzureStore{
		client:    client,
		container: container,
		prefix:    "staging/" + uuid.NewString(),
		logger:    logger,
	}, nil
}

func (s *AzureStore) Create(ctx context.Context) (Writer, error) {
	w := &azureWriter{store: s, id: uuid.NewString()}
	w.gz = gzip.NewWriter(&w.buf)
	w.enc = json.NewEncoder(w.gz)
	return w, nil
}

func (s *AzureStore) Read(ctx context.Context, art *Artifact) ([]record.Record, error) {
	if art == nil {
		return nil, sdkerrors.NewStagingError("artifact cannot be nil", nil)
	}

	resp, err := s.client.DownloadStream(ctx, s.container, art.ref, nil)
	if err != nil {
		return nil, sdkerrors.NewStagingError("failed to download artifact", err)
	}
	defer resp.Body.Close()

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, sdkerrors.NewStagingError("failed to decompress artifact", err)
	}
	defer gz.Close()

	return decodeRecords(gz, art.Rows)
}

func (s *AzureStore) Remove(ctx context.Context, art *Artifact) error {
	if art == nil {
		return nil
	}
	if _, err := s.client.DeleteBlob(ctx, s.container, art.ref, nil); err != nil {
		if isBlobNotFound(err) {
			return nil
		}
		return sdkerrors.NewStagingError("failed to delete artifact", err)
	}
	return nil
}

// Cleanup lists and deletes every blob under the run prefix. Deletion
// continues past individual failures and the first error is reported.
func (s *AzureStore) Cleanup(ctx context.Context) error {
	var firstErr error

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(s.prefix + "/"),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if isContainerNotFound(err) {
				return nil
			}
			return sdkerrors.NewStagingError("failed to list staged artifacts", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if _, err := s.client.DeleteBlob(ctx, s.container, *item.Name, nil); err != nil && !isBlobNotFound(err) {
				s.logger.Warn("Failed to delete staged blob",
					zap.String("blob", *item.Name),
					zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if firstErr != nil {
		return sdkerrors.NewStagingError("failed to delete staged artifacts", firstErr)
	}
	return nil
}

func (s *AzureStore) ensureContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containerInit {
		return nil
	}

	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists" {
			s.containerInit = true
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "containeralreadyexists") {
			s.containerInit = true
			return nil
		}
		return fmt.Errorf("failed to ensure container: %w", err)
	}

	s.containerInit = true
	return nil
}

type azureWriter struct {
	store *AzureStore
	id    string
	buf   bytes.Buffer
	gz    *gzip.Writer
	enc   *json.Encoder
	rows  int
	done  bool
}

func (w *azureWriter) Append(rec record.Record) error {
	if w.done {
		return sdkerrors.NewStagingError("writer is already finalized", nil)
	}
	if err := w.enc.Encode(rec); err != nil {
		return sdkerrors.NewStagingError("failed to encode row", err)
	}
	w.rows++
	return nil
}

func (w *azureWriter) Finalize(ctx context.Context) (*Artifact, error) {
	if w.done {
		return nil, sdkerrors.NewStagingError("writer is already finalized", nil)
	}
	w.done = true

	if err := w.gz.Close(); err != nil {
		return nil, sdkerrors.NewStagingError("failed to flush artifact", err)
	}
	if w.rows == 0 {
		return nil, nil
	}

	if err := w.store.ensureContainer(ctx); err != nil {
		return nil, sdkerrors.NewStagingError("failed to prepare container", err)
	}

	blobPath := w.store.prefix + "/" + w.id + ".jsonl.gz"
	_, err := w.store.client.UploadBuffer(ctx, w.store.container, blobPath, w.buf.Bytes(), &azblob.UploadBufferOptions{
		Metadata: map[string]*string{
			"rows": to.Ptr(strconv.Itoa(w.rows)),
		},
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/gzip"),
		},
	})
	if err != nil {
		w.store.logger.Error("Failed to upload staged artifact",
			zap.String("blob", blobPath),
			zap.Int("size", w.buf.Len()),
			zap.Error(err))
		return nil, sdkerrors.NewStagingError("failed to upload artifact", err)
	}

	w.store.logger.Debug("Uploaded staged artifact",
		zap.String("blob", blobPath),
		zap.Int("rows", w.rows),
		zap.Int("size_bytes", w.buf.Len()))
	return &Artifact{ID: w.id, Rows: w.rows, ref: blobPath}, nil
}

func (w *azureWriter) Discard() error {
	w.done = true
	_ = w.gz.Close()
	w.buf.Reset()
	return nil
}

func isBlobNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == "BlobNotFound"
}

func isContainerNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == "ContainerNotFound"
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}
