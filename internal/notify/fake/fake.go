// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package fake

import (
	"context"
	"sync"
	"testing"

	"github.com/mia-platform/normalizer/internal/notify"
)

var _ notify.Notifier = &FakeNotifier{}

// FakeNotifier records every event it receives.
type FakeNotifier struct {
	tb    testing.TB
	err   error
	block bool

	lock   sync.Mutex
	events []notify.Event
	closed bool
}

func NewFakeNotifier(tb testing.TB) *FakeNotifier {
	tb.Helper()
	return &FakeNotifier{tb: tb}
}

// NewFailingNotifier returns a FakeNotifier that records events and then returns err.
func NewFailingNotifier(tb testing.TB, err error) *FakeNotifier {
	tb.Helper()
	return &FakeNotifier{tb: tb, err: err}
}

// NewBlockingNotifier returns a FakeNotifier that records events and then blocks until the
// context of the call is done.
func NewBlockingNotifier(tb testing.TB) *FakeNotifier {
	tb.Helper()
	return &FakeNotifier{tb: tb, block: true}
}

func (f *FakeNotifier) Notify(ctx context.Context, event notify.Event) error {
	f.tb.Helper()

	f.lock.Lock()
	f.events = append(f.events, event)
	f.lock.Unlock()

	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *FakeNotifier) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.closed = true
	return nil
}

func (f *FakeNotifier) Events() []notify.Event {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]notify.Event(nil), f.events...)
}

func (f *FakeNotifier) EventTypes() []notify.EventType {
	f.lock.Lock()
	defer f.lock.Unlock()

	types := make([]notify.EventType, 0, len(f.events))
	for _, event := range f.events {
		types = append(types, event.Type)
	}
	return types
}

func (f *FakeNotifier) Closed() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.closed
}
