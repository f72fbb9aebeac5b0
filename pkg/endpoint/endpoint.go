package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"avaneesh/shotxfer/pkg/chunk"
	"avaneesh/shotxfer/pkg/internal/logger"
	"avaneesh/shotxfer/pkg/message"
	"avaneesh/shotxfer/pkg/types"
)

var (
	// ErrEndpointClosed is returned by operations on a closed endpoint
	ErrEndpointClosed = errors.New("endpoint is closed")
	// ErrNoCapturer is returned when a capture is needed and none is configured
	ErrNoCapturer = errors.New("endpoint has no capturer")
)

// Endpoint is one participant in screenshot transfers. It answers capture
// requests with its Capturer, requests screenshots from peers, and hands
// reassembled screenshots to its Handler. Endpoint implements channel.Session.
type Endpoint struct {
	config      Config
	transport   Transport
	capturer    Capturer
	handler     Handler
	sender      *chunk.Sender
	reassembler *chunk.Reassembler
	stats       *chunk.Statistics
	logger      logger.Logger

	// Callers blocked in Fetch, keyed by peer ID
	waiters  map[string][]chan *string
	waiterMu sync.Mutex

	// State
	closed  bool
	stateMu sync.RWMutex

	// Concurrency
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an endpoint. capturer may be nil for a request-only endpoint;
// handler may be nil when screenshots are only consumed through Fetch.
func New(config Config, transport Transport, capturer Capturer, handler Handler, log logger.Logger) (*Endpoint, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.New("endpoint requires a transport")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	stats := chunk.NewStatistics()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Endpoint{
		config:      config,
		transport:   transport,
		capturer:    capturer,
		handler:     handler,
		sender:      chunk.NewSender(config.Transfer, stats, log),
		reassembler: chunk.NewReassembler(config.Transfer, stats, log),
		stats:       stats,
		logger:      log,
		waiters:     make(map[string][]chan *string),
		ctx:         ctx,
		cancel:      cancel,
	}

	e.logger.Info("Endpoint %s created: chunk=%d, completion=%s", config.Self, config.Transfer.ChunkSize, config.Transfer.Completion)
	return e, nil
}

// PeerID returns the ID envelopes must be addressed to (implements channel.Session)
func (e *Endpoint) PeerID() string {
	return e.config.Self.ID
}

// Self returns the endpoint's identity
func (e *Endpoint) Self() types.PeerIdentity {
	return e.config.Self
}

// Stats returns the shared sender and reassembler statistics
func (e *Endpoint) Stats() *chunk.Statistics {
	return e.stats
}

// Reassembler returns the endpoint's reassembler
func (e *Endpoint) Reassembler() *chunk.Reassembler {
	return e.reassembler
}

// OnReceive dispatches one inbound envelope (implements channel.Session).
// Malformed or mismatched fragments are logged and counted, not returned.
func (e *Endpoint) OnReceive(env *message.Envelope) error {
	if e.isClosed() {
		return ErrEndpointClosed
	}

	switch m := env.Message.(type) {
	case message.CaptureRequest:
		e.logger.Debug("Endpoint %s: capture requested by %s", e.config.Self.ID, env.From)
		return e.answer(env.From)

	case message.Screenshot:
		if m.Failed() {
			e.logger.Info("Endpoint %s: %s produced no screenshot", e.config.Self.ID, env.From)
			e.deliver(env.From, nil)
			return nil
		}
		c, err := e.reassembler.Whole(env.From, *m.Data)
		if err != nil {
			e.logger.Warn("Endpoint %s: discarding screenshot from %s: %v", e.config.Self.ID, env.From, err)
			return nil
		}
		e.deliver(c.Origin, &c.Payload)
		return nil

	case message.FragmentMessage:
		c, err := e.reassembler.Process(env.From, m.Fragment)
		if err != nil {
			e.logger.Debug("Endpoint %s: fragment %s rejected: %v", e.config.Self.ID, m.Fragment, err)
			return nil
		}
		if c != nil {
			e.logger.Info("Endpoint %s: screenshot %s from %s, %d bytes in %d fragments (%s)",
				e.config.Self.ID, c.TransferID, c.Origin, len(c.Payload), c.Fragments, c.Elapsed)
			e.deliver(c.Origin, &c.Payload)
		}
		return nil

	default:
		return fmt.Errorf("%w: %T", message.ErrUnknownKind, env.Message)
	}
}

// answer runs the capturer off the read loop and replies to the requester
func (e *Endpoint) answer(to types.PeerIdentity) error {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.closed {
		return ErrEndpointClosed
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx := e.ctx
		if e.config.CaptureTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.config.CaptureTimeout)
			defer cancel()
		}

		payload, err := e.capture(ctx)
		if err != nil {
			e.logger.Warn("Endpoint %s: capture for %s failed: %v", e.config.Self.ID, to, err)
			if err := e.notifyFailed(e.ctx, to); err != nil {
				e.logger.Error("Endpoint %s: capture-failed notice to %s: %v", e.config.Self.ID, to, err)
			}
			return
		}

		if _, _, err := e.SendScreenshot(e.ctx, to, payload); err != nil {
			e.logger.Error("Endpoint %s: screenshot to %s: %v", e.config.Self.ID, to, err)

			// Refused before any fragment went out: tell the requester
			if errors.Is(err, chunk.ErrInvalidPayload) || errors.Is(err, chunk.ErrPayloadTooLarge) {
				if err := e.notifyFailed(e.ctx, to); err != nil {
					e.logger.Error("Endpoint %s: capture-failed notice to %s: %v", e.config.Self.ID, to, err)
				}
			}
		}
	}()
	return nil
}

func (e *Endpoint) capture(ctx context.Context) (string, error) {
	if e.capturer == nil {
		return "", ErrNoCapturer
	}
	payload, err := e.capturer.Capture(ctx)
	if err != nil {
		return "", err
	}
	if payload == "" {
		return "", ErrNoCapture
	}
	return payload, nil
}

// SendScreenshot splits payload and sends its fragments to a peer in index
// order. Returns the transfer ID and fragment count.
func (e *Endpoint) SendScreenshot(ctx context.Context, to types.PeerIdentity, payload string) (string, int, error) {
	if e.isClosed() {
		return "", 0, ErrEndpointClosed
	}
	return e.sender.SplitAndSend(ctx, payload, to, e.sendFragment)
}

func (e *Endpoint) sendFragment(ctx context.Context, to types.PeerIdentity, frag chunk.Fragment) error {
	return e.transport.Send(ctx, message.NewEnvelope(e.config.Self, to.ID, message.FragmentMessage{Fragment: frag}))
}

func (e *Endpoint) notifyFailed(ctx context.Context, to types.PeerIdentity) error {
	return e.transport.Send(ctx, message.NewEnvelope(e.config.Self, to.ID, message.CaptureFailed()))
}

// RequestScreenshot asks a peer to capture and send a screenshot. The result
// arrives asynchronously through the Handler.
func (e *Endpoint) RequestScreenshot(ctx context.Context, to types.PeerIdentity) error {
	if e.isClosed() {
		return ErrEndpointClosed
	}
	if err := to.Validate(); err != nil {
		return err
	}

	e.logger.Debug("Endpoint %s: requesting screenshot from %s", e.config.Self.ID, to)
	return e.transport.Send(ctx, message.NewEnvelope(e.config.Self, to.ID, message.CaptureRequest{}))
}

// Fetch requests a screenshot from a peer and waits for the next screenshot
// it delivers. A nil payload means the peer produced nothing.
func (e *Endpoint) Fetch(ctx context.Context, from types.PeerIdentity) (*string, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}

	ch := make(chan *string, 1)
	e.addWaiter(from.ID, ch)
	defer e.removeWaiter(from.ID, ch)

	if err := e.RequestScreenshot(ctx, from); err != nil {
		return nil, err
	}

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.ctx.Done():
		return nil, ErrEndpointClosed
	}
}

func (e *Endpoint) addWaiter(id string, ch chan *string) {
	e.waiterMu.Lock()
	defer e.waiterMu.Unlock()
	e.waiters[id] = append(e.waiters[id], ch)
}

func (e *Endpoint) removeWaiter(id string, ch chan *string) {
	e.waiterMu.Lock()
	defer e.waiterMu.Unlock()

	list := e.waiters[id]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(e.waiters, id)
	} else {
		e.waiters[id] = list
	}
}

// deliver hands a screenshot to every Fetch waiting on origin, then the Handler
func (e *Endpoint) deliver(origin types.PeerIdentity, payload *string) {
	e.waiterMu.Lock()
	waiting := e.waiters[origin.ID]
	delete(e.waiters, origin.ID)
	e.waiterMu.Unlock()

	for _, ch := range waiting {
		ch <- payload
	}

	if e.handler != nil {
		e.handler.OnScreenshot(origin, payload)
	}
}

func (e *Endpoint) isClosed() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.closed
}

// Close cancels in-flight captures, waits for replies in progress and
// discards partial transfers
func (e *Endpoint) Close() error {
	e.stateMu.Lock()
	if e.closed {
		e.stateMu.Unlock()
		return nil
	}
	e.closed = true
	e.stateMu.Unlock()

	e.logger.Info("Endpoint %s closing", e.config.Self.ID)

	e.cancel()
	e.wg.Wait()
	e.reassembler.Reset()

	e.logger.Info("Endpoint %s closed", e.config.Self.ID)
	return nil
}

// String returns string representation
func (e *Endpoint) String() string {
	return fmt.Sprintf("Endpoint{ID=%s, InFlight=%d}", e.config.Self, e.reassembler.Len())
}
