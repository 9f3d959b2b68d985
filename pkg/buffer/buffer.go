// Package buffer implements the opaque byte queue shared by the Thrift
// codec and the TCP proxy filter. It supports O(1) append, O(1) prepend,
// peeking at a prefix without consuming it, and draining a contiguous
// view without copying the whole backing store.
package buffer

import "github.com/gammazero/deque"

// Buffer is a byte queue backed by a ring-buffer deque. Unlike
// bytes.Buffer, it supports O(1) Prepend in addition to O(1) Append.
// The Thrift codec leaves a partially-read frame untouched by peeking
// with PeekN and draining with DrainN only once a value is complete.
type Buffer struct {
	q deque.Deque[byte]
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds b to the back of the queue.
func (buf *Buffer) Append(b []byte) {
	for _, c := range b {
		buf.q.PushBack(c)
	}
}

// Prepend adds b to the front of the queue, preserving b's own order.
func (buf *Buffer) Prepend(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		buf.q.PushFront(b[i])
	}
}

// Len returns the number of bytes currently queued.
func (buf *Buffer) Len() int {
	return buf.q.Len()
}

// PeekN returns a contiguous copy of the first n bytes without removing
// them. It returns false if fewer than n bytes are available, leaving the
// queue untouched.
func (buf *Buffer) PeekN(n int) ([]byte, bool) {
	if buf.q.Len() < n {
		return nil, false
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = buf.q.At(i)
	}
	return out, true
}

// DrainN removes and returns the first n bytes. It returns false without
// consuming anything if fewer than n bytes are queued.
func (buf *Buffer) DrainN(n int) ([]byte, bool) {
	out, ok := buf.PeekN(n)
	if !ok {
		return nil, false
	}
	for i := 0; i < n; i++ {
		buf.q.PopFront()
	}
	return out, true
}

// Drain removes and returns every queued byte.
func (buf *Buffer) Drain() []byte {
	out, _ := buf.DrainN(buf.q.Len())
	return out
}
