// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package archive

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/normalizer/internal/config"
	"github.com/mia-platform/normalizer/internal/normalization"
)

type upload struct {
	container   string
	blobName    string
	content     string
	contentType string
}

type fakeUploader struct {
	lock    sync.Mutex
	errs    []error
	uploads []upload
}

func (f *fakeUploader) UploadBuffer(_ context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	contentType := ""
	if o != nil && o.HTTPHeaders != nil && o.HTTPHeaders.BlobContentType != nil {
		contentType = *o.HTTPHeaders.BlobContentType
	}
	f.uploads = append(f.uploads, upload{container: containerName, blobName: blobName, content: string(buffer), contentType: contentType})

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return azblob.UploadBufferResponse{}, err
	}
	return azblob.UploadBufferResponse{}, nil
}

func testArchiver(uploader *fakeUploader) *BlobArchiver {
	archiver := newBlobArchiver(uploader, config.ArchiveConfig{
		ContainerName: "logs",
		Prefix:        "normalization",
		MaxRetries:    2,
	})
	archiver.retryBase = time.Millisecond
	return archiver
}

func TestBlobName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "normalization/42/1/normalize.log", BlobName("normalization", "42", 1))
	assert.Equal(t, "42/0/normalize.log", BlobName("", "42", 0))
}

func TestArchive(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		errs            []error
		expectedUploads int
		expectedError   bool
	}{
		"first upload succeeds": {
			expectedUploads: 1,
		},
		"server error is retried": {
			errs: []error{
				&azcore.ResponseError{StatusCode: http.StatusServiceUnavailable},
				&azcore.ResponseError{StatusCode: http.StatusTooManyRequests},
			},
			expectedUploads: 3,
		},
		"network error is retried until retries are exhausted": {
			errs:            []error{errors.New("connection reset"), errors.New("connection reset"), errors.New("connection reset")},
			expectedUploads: 3,
			expectedError:   true,
		},
		"client error is not retried": {
			errs:            []error{&azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "AuthorizationFailure"}},
			expectedUploads: 1,
			expectedError:   true,
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			uploader := &fakeUploader{errs: test.errs}
			blobName, err := testArchiver(uploader).Archive(t.Context(), "42", 1, []byte("a\nb\n"))

			assert.Len(t, uploader.uploads, test.expectedUploads)
			if test.expectedError {
				require.ErrorIs(t, err, ErrArchive)
				assert.Empty(t, blobName)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "normalization/42/1/normalize.log", blobName)
			for _, upload := range uploader.uploads {
				assert.Equal(t, "logs", upload.container)
				assert.Equal(t, blobName, upload.blobName)
				assert.Equal(t, "a\nb\n", upload.content)
				assert.Equal(t, logContentType, upload.contentType)
			}
		})
	}
}

func TestArchiveCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	uploader := &fakeUploader{errs: []error{errors.New("connection reset")}}
	_, err := testArchiver(uploader).Archive(ctx, "42", 1, nil)
	assert.ErrorIs(t, err, ErrArchive)
}

func TestNewBlobArchiver(t *testing.T) {
	t.Parallel()

	archiver, err := NewBlobArchiver(config.ArchiveConfig{
		ConnectionString: "DefaultEndpointsProtocol=https;AccountName=account;AccountKey=a2V5;EndpointSuffix=core.windows.net",
		ContainerName:    "logs",
		Prefix:           "runs",
		MaxRetries:       1,
	})
	require.NoError(t, err)
	assert.Equal(t, "logs", archiver.container)
	assert.Equal(t, "runs", archiver.prefix)

	_, err = NewBlobArchiver(config.ArchiveConfig{ConnectionString: "not-a-connection-string", ContainerName: "logs"})
	assert.ErrorIs(t, err, ErrArchive)
}

func TestServiceURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://account.blob.core.windows.net/", serviceURL("account"))
	assert.Equal(t, "https://other.blob.core.windows.net/", serviceURL("https://other.blob.core.windows.net/"))
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(0)
	require.NoError(t, recorder.Accept(normalization.Line{Number: 1, Text: "first"}))
	require.NoError(t, recorder.Accept(normalization.Line{Number: 2, Text: "second"}))

	content := recorder.Bytes()
	assert.Equal(t, "first\nsecond\n", string(content))

	content[0] = 'F'
	assert.Equal(t, "first\nsecond\n", string(recorder.Bytes()))
}

func TestRecorderLimit(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		limit    int
		lines    []string
		expected string
	}{
		"output within the limit is kept whole": {
			limit:    12,
			lines:    []string{"aaaaa", "bbbbb"},
			expected: "aaaaa\nbbbbb\n",
		},
		"oldest lines are dropped first": {
			limit:    12,
			lines:    []string{"aaaaa", "bbbbb", "ccccc", "ddddd"},
			expected: "[2 earlier lines not archived]\nccccc\nddddd\n",
		},
		"the last line is kept even when longer than the limit": {
			limit:    4,
			lines:    []string{"a", "bbbbbbbbbb"},
			expected: "[1 earlier lines not archived]\nbbbbbbbbbb\n",
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			recorder := NewRecorder(test.limit)
			for i, text := range test.lines {
				require.NoError(t, recorder.Accept(normalization.Line{Number: i + 1, Text: text}))
			}
			assert.Equal(t, test.expected, string(recorder.Bytes()))
		})
	}
}

func TestRecorderMemoryIsBounded(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(1024)
	text := strings.Repeat("x", 99)
	for i := range 100_000 {
		require.NoError(t, recorder.Accept(normalization.Line{Number: i + 1, Text: text}))
	}

	content := recorder.Bytes()
	assert.LessOrEqual(t, len(content), 1024+64)
	assert.True(t, strings.HasPrefix(string(content), "[99990 earlier lines not archived]\n"))
	assert.True(t, strings.HasSuffix(string(content), text+"\n"))
}

func TestNoOpArchiver(t *testing.T) {
	t.Parallel()

	blobName, err := NoOpArchiver{}.Archive(t.Context(), "42", 1, []byte("a\n"))
	require.NoError(t, err)
	assert.Empty(t, blobName)
}
