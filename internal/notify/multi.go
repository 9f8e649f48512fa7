// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package notify

import (
	"context"
	"errors"
)

// Multi returns a Notifier delivering every event to all notifiers. A failing notifier
// does not prevent the delivery to the others.
func Multi(notifiers ...Notifier) Notifier {
	switch len(notifiers) {
	case 0:
		return NoOpNotifier{}
	case 1:
		return notifiers[0]
	default:
		return multiNotifier(notifiers)
	}
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, event Event) error {
	errs := make([]error, 0, len(m))
	for _, notifier := range m {
		errs = append(errs, notifier.Notify(ctx, event))
	}
	return errors.Join(errs...)
}

func (m multiNotifier) Close() error {
	errs := make([]error, 0, len(m))
	for _, notifier := range m {
		errs = append(errs, notifier.Close())
	}
	return errors.Join(errs...)
}
