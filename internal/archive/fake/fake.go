// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package fake

import (
	"context"
	"sync"
	"testing"

	"github.com/mia-platform/normalizer/internal/archive"
)

var _ archive.Archiver = &FakeArchiver{}

// Entry is a run log received by FakeArchiver.
type Entry struct {
	JobID   string
	Attempt int
	Content string
}

// FakeArchiver keeps run logs in memory.
type FakeArchiver struct {
	tb  testing.TB
	err error

	lock    sync.Mutex
	entries []Entry
}

func NewFakeArchiver(tb testing.TB) *FakeArchiver {
	tb.Helper()
	return &FakeArchiver{tb: tb}
}

// NewFailingArchiver returns a FakeArchiver that records run logs and then returns err.
func NewFailingArchiver(tb testing.TB, err error) *FakeArchiver {
	tb.Helper()
	return &FakeArchiver{tb: tb, err: err}
}

func (f *FakeArchiver) Archive(_ context.Context, jobID string, attempt int, content []byte) (string, error) {
	f.tb.Helper()

	f.lock.Lock()
	defer f.lock.Unlock()
	f.entries = append(f.entries, Entry{JobID: jobID, Attempt: attempt, Content: string(content)})
	if f.err != nil {
		return "", f.err
	}
	return archive.BlobName("fake", jobID, attempt), nil
}

func (f *FakeArchiver) Entries() []Entry {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]Entry(nil), f.entries...)
}
