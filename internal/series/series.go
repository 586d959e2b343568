// Package series keeps the most recent points of several parallel numeric
// series in a fixed-capacity ring.
package series

import (
	"sync"

	"codeberg.org/mutker/fluxdash/internal/errors"
)

// DefaultCapacity is the number of points kept when none is configured.
const DefaultCapacity = 60

// Buffer is a bounded FIFO of labelled points. Every point carries one value
// per named series, so all series always have the same length.
type Buffer struct {
	mu       sync.RWMutex
	names    []string
	labels   []string
	values   [][]float64 // values[series][slot]
	capacity int
	index    int // next write slot
	size     int
}

// Window is an isolated copy of a Buffer's contents, oldest point first.
type Window struct {
	Names  []string
	Labels []string
	Values [][]float64
}

// New creates a buffer for the given series names. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int, names ...string) (*Buffer, error) {
	if len(names) == 0 {
		return nil, errors.New().New(ErrNoSeries)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	values := make([][]float64, len(names))
	for i := range values {
		values[i] = make([]float64, capacity)
	}

	return &Buffer{
		names:    append([]string(nil), names...),
		labels:   make([]string, capacity),
		values:   values,
		capacity: capacity,
	}, nil
}

// Append adds one point to every series. When the buffer is full the oldest
// point is overwritten in the same critical section.
func (b *Buffer) Append(label string, values ...float64) error {
	if len(values) != len(b.names) {
		return errors.New().WithData(ErrArityMismatch, struct {
			Want int
			Got  int
		}{len(b.names), len(values)})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.labels[b.index] = label
	for i, v := range values {
		b.values[i][b.index] = v
	}

	b.index = (b.index + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}

	return nil
}

// Snapshot returns all points oldest to newest. The result shares no memory
// with the buffer.
func (b *Buffer) Snapshot() Window {
	return b.Latest(b.capacity)
}

// Latest returns up to n of the newest points, oldest first.
func (b *Buffer) Latest(n int) Window {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := n
	if count > b.size {
		count = b.size
	}
	if count < 0 {
		count = 0
	}

	w := Window{
		Names:  append([]string(nil), b.names...),
		Labels: make([]string, count),
		Values: make([][]float64, len(b.names)),
	}
	for i := range w.Values {
		w.Values[i] = make([]float64, count)
	}

	start := (b.index - count + b.capacity) % b.capacity
	for i := 0; i < count; i++ {
		slot := (start + i) % b.capacity
		w.Labels[i] = b.labels[slot]
		for s := range b.values {
			w.Values[s][i] = b.values[s][slot]
		}
	}

	return w
}

// Len returns the current number of points.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Names returns the series names in the order Append expects their values.
func (b *Buffer) Names() []string {
	return append([]string(nil), b.names...)
}

// Reset drops every point.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = 0
	b.size = 0
	clear(b.labels)
}

// Series returns the values of the named series, or nil if there is none.
func (w Window) Series(name string) []float64 {
	for i, n := range w.Names {
		if n == name {
			return w.Values[i]
		}
	}
	return nil
}

// Len returns the number of points in the window.
func (w Window) Len() int {
	return len(w.Labels)
}
