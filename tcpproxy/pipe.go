package tcpproxy

import (
	"errors"
	"io"
	"net"
	"sync"

	bpool "github.com/libp2p/go-buffer-pool"

	"github.com/relaymesh/dataplane/pkg/buffer"
)

const pumpReadSize = 16 * 1024

// flowGate implements the high/low watermark read-disable/enable rule
// of spec.md §4.4's state table: once the tracked backlog exceeds
// highWatermark, Wait blocks until a drain brings it back under
// lowWatermark. A zero highWatermark disables flow control entirely
// (unbounded backlog, matching "idle_timeout: 0 disables" style
// opt-out conventions elsewhere in spec.md §6).
type flowGate struct {
	mu             sync.Mutex
	cond           *sync.Cond
	backlog        int
	highWatermark  int
	lowWatermark   int
	disabled       bool
	closed         bool
}

func newFlowGate(highWatermark, lowWatermark int) *flowGate {
	g := &flowGate{highWatermark: highWatermark, lowWatermark: lowWatermark}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Add records n bytes entering the backlog, pausing future readers if
// the high watermark is now exceeded.
func (g *flowGate) Add(n int) {
	g.mu.Lock()
	g.backlog += n
	if g.highWatermark > 0 && g.backlog > g.highWatermark {
		g.disabled = true
	}
	g.mu.Unlock()
}

// Done records n bytes having drained from the backlog, waking any
// reader paused on the high watermark once it falls under the low
// watermark.
func (g *flowGate) Done(n int) {
	g.mu.Lock()
	g.backlog -= n
	if g.disabled && g.backlog <= g.lowWatermark {
		g.disabled = false
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

// WaitIfDisabled blocks while the gate is read-disabled (backlog above
// the high watermark), returning early if the gate is closed.
func (g *flowGate) WaitIfDisabled() {
	g.mu.Lock()
	for g.disabled && !g.closed {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// ReadDisabled reports whether the gate is currently pausing readers.
func (g *flowGate) ReadDisabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled
}

// Close releases any reader blocked in WaitIfDisabled.
func (g *flowGate) Close() {
	g.mu.Lock()
	g.closed = true
	g.cond.Broadcast()
	g.mu.Unlock()
}

// pump copies bytes from src to dst through an internal queue so a slow
// dst backs up the queue (observable via gate) instead of blocking the
// reader goroutine directly on every single write — the shape that
// makes a concrete high/low watermark meaningful. Reads use pooled
// buffers (github.com/libp2p/go-buffer-pool) to avoid a per-read
// allocation in the hot path.
//
// A clean EOF from src (onReadEOF) marks a half-close: the queue keeps
// draining to dst after the read side has stopped (the "deferred
// flush" of spec.md §4.4), observed through onFlushStart/onFlushEnd
// when there was anything left to drain at EOF time.
type pump struct {
	src, dst net.Conn
	gate     *flowGate
	queue    *buffer.Buffer
	mu       sync.Mutex
	notEmpty *sync.Cond

	onBytes      func(n int)
	onIdle       func()
	onReadEOF    func()
	onFlushStart func()
	onFlushEnd   func()

	closed       bool
	flushPending bool
	err          error
}

func newPump(src, dst net.Conn, gate *flowGate, onBytes func(int), onIdle func()) *pump {
	p := &pump{src: src, dst: dst, gate: gate, queue: buffer.New(), onBytes: onBytes, onIdle: onIdle}
	p.notEmpty = sync.NewCond(&p.mu)
	return p
}

// run drives both the read side and the write side of the pump
// in two goroutines and returns once both have finished. The returned
// error is the read side's error if it has one (io.EOF on a clean
// remote close), otherwise the write side's.
func (p *pump) run() error {
	var wg sync.WaitGroup
	wg.Add(2)
	var readErr, writeErr error

	go func() {
		defer wg.Done()
		defer p.closeQueue()
		readErr = p.readLoop()
	}()
	go func() {
		defer wg.Done()
		writeErr = p.writeLoop()
	}()
	wg.Wait()

	if readErr != nil {
		return readErr
	}
	return writeErr
}

func (p *pump) readLoop() error {
	for {
		p.gate.WaitIfDisabled()

		buf := bpool.Get(pumpReadSize)
		n, err := p.src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			bpool.Put(buf)

			p.gate.Add(n)
			p.mu.Lock()
			p.queue.Append(chunk)
			p.notEmpty.Signal()
			p.mu.Unlock()

			if p.onBytes != nil {
				p.onBytes(n)
			}
			if p.onIdle != nil {
				p.onIdle()
			}
		} else {
			bpool.Put(buf)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && p.onReadEOF != nil {
				p.onReadEOF()
			}
			return err
		}
	}
}

func (p *pump) writeLoop() error {
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.closed {
			p.notEmpty.Wait()
		}
		if p.queue.Len() == 0 && p.closed {
			p.mu.Unlock()
			p.endFlush()
			return nil
		}
		chunk := p.queue.Drain()
		p.mu.Unlock()

		if _, err := p.dst.Write(chunk); err != nil {
			p.gate.Done(len(chunk))
			p.endFlush()
			return err
		}
		p.gate.Done(len(chunk))
		if p.onIdle != nil {
			p.onIdle()
		}
	}
}

// closeQueue marks the queue closed once src has hit EOF or an error,
// so writeLoop drains what's left and returns instead of waiting
// forever. If bytes read from src had not all been written to dst at
// this point (still queued, or drained by writeLoop and not yet
// written; the gate's backlog counts both), the pump has entered a
// deferred flush (spec.md §4.4): the read side is done but dst hasn't
// seen everything yet.
func (p *pump) closeQueue() {
	p.gate.mu.Lock()
	pending := p.gate.backlog > 0
	p.gate.mu.Unlock()

	p.mu.Lock()
	p.closed = true
	if pending {
		p.flushPending = true
	}
	p.notEmpty.Broadcast()
	p.mu.Unlock()

	if pending && p.onFlushStart != nil {
		p.onFlushStart()
	}
}

// endFlush reports the end of a deferred flush started by closeQueue,
// whether it finished draining normally or aborted on a write error.
func (p *pump) endFlush() {
	p.mu.Lock()
	flushed := p.flushPending
	p.flushPending = false
	p.mu.Unlock()

	if flushed && p.onFlushEnd != nil {
		p.onFlushEnd()
	}
}
