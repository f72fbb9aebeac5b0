package channel

import (
	"context"
	"errors"
	"sync"
)

var errPipeClosed = errors.New("pipe closed")

// PipeChannel is one end of an in-memory PhysicalChannel pair.
// Messages keep their boundaries and order; closing either end closes both.
type PipeChannel struct {
	readChan  chan []byte
	writeChan chan []byte
	shared    *pipeState

	filter func(data []byte) bool
	stats  TransportStats
	mu     sync.RWMutex
}

type pipeState struct {
	closeChan chan struct{}
	once      sync.Once
}

// Pipe returns two connected in-memory channels with the given per-direction buffer
func Pipe(buffer int) (*PipeChannel, *PipeChannel) {
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	shared := &pipeState{closeChan: make(chan struct{})}

	return &PipeChannel{readChan: ba, writeChan: ab, shared: shared},
		&PipeChannel{readChan: ab, writeChan: ba, shared: shared}
}

// SetWriteFilter installs a filter consulted on every Write; returning false
// silently drops the message, as a lossy transport would
func (p *PipeChannel) SetWriteFilter(filter func(data []byte) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter = filter
}

// Read implements PhysicalChannel.Read
func (p *PipeChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.shared.closeChan:
		return nil, errPipeClosed
	case data := <-p.readChan:
		p.mu.Lock()
		p.stats.BytesReceived += uint64(len(data))
		p.mu.Unlock()
		return data, nil
	}
}

// Write implements PhysicalChannel.Write
func (p *PipeChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-p.shared.closeChan:
		return errPipeClosed
	default:
	}

	p.mu.RLock()
	filter := p.filter
	p.mu.RUnlock()

	if filter != nil && !filter(data) {
		return nil
	}

	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.shared.closeChan:
		return errPipeClosed
	case p.writeChan <- msg:
		p.mu.Lock()
		p.stats.BytesSent += uint64(len(data))
		p.mu.Unlock()
		return nil
	}
}

// Close implements PhysicalChannel.Close
func (p *PipeChannel) Close() error {
	p.shared.once.Do(func() {
		close(p.shared.closeChan)
	})
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (p *PipeChannel) Statistics() TransportStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// SetConnectionStateListener implements PhysicalChannel; a pipe is always connected
func (p *PipeChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	if listener != nil {
		listener.OnConnectionEstablished()
	}
}
