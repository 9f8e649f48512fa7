// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package consumer

// Consumer accepts one item at a time. A non nil error aborts the producer that is feeding it.
type Consumer[T any] interface {
	Accept(item T) error
}

// Func adapts an ordinary function to the Consumer interface.
type Func[T any] func(item T) error

// Accept calls f(item).
func (f Func[T]) Accept(item T) error {
	return f(item)
}

// Discard returns a Consumer that accepts everything.
func Discard[T any]() Consumer[T] {
	return Func[T](func(T) error { return nil })
}

type chain[T any] []Consumer[T]

// Chain returns a Consumer that hands every item to each consumer in order. The first failure
// stops the chain for that item and is returned as is.
func Chain[T any](consumers ...Consumer[T]) Consumer[T] {
	filtered := make(chain[T], 0, len(consumers))
	for _, c := range consumers {
		if c != nil {
			filtered = append(filtered, c)
		}
	}

	return filtered
}

func (c chain[T]) Accept(item T) error {
	for _, consumer := range c {
		if err := consumer.Accept(item); err != nil {
			return err
		}
	}

	return nil
}
