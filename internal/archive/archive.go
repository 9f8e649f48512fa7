// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/sethvargo/go-retry"

	"github.com/mia-platform/normalizer/internal/config"
	"github.com/mia-platform/normalizer/internal/logger"
	"github.com/mia-platform/normalizer/internal/normalization"
)

const (
	loggerName = "normalizer:archive"

	logFileName    = "normalize.log"
	logContentType = "text/plain; charset=utf-8"

	defaultRetryBase = 500 * time.Millisecond

	// DefaultMaxLogBytes is the default size limit of an archived run log.
	DefaultMaxLogBytes = 8 * 1024 * 1024
)

var (
	// ErrArchive wraps every failure to store a run log.
	ErrArchive = errors.New("run log not archived")
)

// Archiver stores the output of a finished run.
type Archiver interface {
	Archive(ctx context.Context, jobID string, attempt int, content []byte) (string, error)
}

var _ Archiver = NoOpArchiver{}

// NoOpArchiver discards every run log.
type NoOpArchiver struct{}

func (NoOpArchiver) Archive(context.Context, string, int, []byte) (string, error) {
	return "", nil
}

// blobUploader is the subset of *azblob.Client used to store run logs.
type blobUploader interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

var _ Archiver = &BlobArchiver{}

// BlobArchiver uploads run logs to an Azure storage container.
type BlobArchiver struct {
	uploader   blobUploader
	container  string
	prefix     string
	maxRetries uint64
	retryBase  time.Duration
}

// NewBlobArchiver builds a BlobArchiver from cfg, authenticating with the connection string when
// present and with the default Azure credential chain otherwise.
func NewBlobArchiver(cfg config.ArchiveConfig) (*BlobArchiver, error) {
	client, err := newBlobClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchive, err)
	}

	return newBlobArchiver(client, cfg), nil
}

func newBlobArchiver(uploader blobUploader, cfg config.ArchiveConfig) *BlobArchiver {
	return &BlobArchiver{
		uploader:   uploader,
		container:  cfg.ContainerName,
		prefix:     cfg.Prefix,
		maxRetries: cfg.MaxRetries,
		retryBase:  defaultRetryBase,
	}
}

func newBlobClient(cfg config.ArchiveConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}

	credentials, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}

	return azblob.NewClient(serviceURL(cfg.StorageAccount), credentials, nil)
}

func serviceURL(account string) string {
	if strings.Contains(account, ".blob.core.windows.net") {
		return account
	}

	return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
}

// BlobName returns the name of the blob holding the log of a job attempt.
func BlobName(prefix, jobID string, attempt int) string {
	return path.Join(prefix, jobID, strconv.Itoa(attempt), logFileName)
}

// Archive uploads content and returns the blob name. Server errors and throttling are retried
// with an exponential backoff.
func (a *BlobArchiver) Archive(ctx context.Context, jobID string, attempt int, content []byte) (string, error) {
	log := logger.FromContext(ctx).WithName(loggerName)
	blobName := BlobName(a.prefix, jobID, attempt)
	contentType := logContentType

	backoff := retry.WithMaxRetries(a.maxRetries, retry.NewExponential(a.retryBase))
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		_, err := a.uploader.UploadBuffer(ctx, a.container, blobName, content, &azblob.UploadBufferOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		})
		if err == nil {
			return nil
		}

		if isRetryable(err) {
			log.Debug("run log upload failed, retrying", "blob", blobName, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: uploading %s: %w", ErrArchive, blobName, err)
	}

	log.Info("run log archived", "container", a.container, "blob", blobName, "size", len(content))
	return blobName, nil
}

func isRetryable(err error) bool {
	var responseErr *azcore.ResponseError
	if !errors.As(err, &responseErr) {
		return true
	}

	return responseErr.StatusCode == http.StatusTooManyRequests || responseErr.StatusCode >= http.StatusInternalServerError
}

// Recorder keeps the most recent lines of a run, up to a size limit, so that they can be
// archived afterwards.
type Recorder struct {
	lock    sync.Mutex
	limit   int
	size    int
	lines   []string
	dropped int
}

// NewRecorder returns a Recorder keeping at most limit bytes of output. The last line is
// always kept, even when it is longer than limit. A limit not greater than zero selects
// DefaultMaxLogBytes.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultMaxLogBytes
	}
	return &Recorder{limit: limit}
}

// Accept implements consumer.Consumer.
func (r *Recorder) Accept(line normalization.Line) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.lines = append(r.lines, line.Text)
	r.size += len(line.Text) + 1
	for r.size > r.limit && len(r.lines) > 1 {
		r.size -= len(r.lines[0]) + 1
		r.lines[0] = ""
		r.lines = r.lines[1:]
		r.dropped++
	}
	return nil
}

// Bytes returns the recorded output, preceded by a marker line when older lines were dropped.
func (r *Recorder) Bytes() []byte {
	r.lock.Lock()
	defer r.lock.Unlock()

	buffer := new(bytes.Buffer)
	buffer.Grow(r.size)
	if r.dropped > 0 {
		fmt.Fprintf(buffer, "[%d earlier lines not archived]\n", r.dropped)
	}
	for _, line := range r.lines {
		buffer.WriteString(line)
		buffer.WriteByte('\n')
	}
	return buffer.Bytes()
}
