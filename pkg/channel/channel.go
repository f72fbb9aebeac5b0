package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"avaneesh/shotxfer/pkg/internal/logger"
	"avaneesh/shotxfer/pkg/message"
)

const readRetryDelay = 100 * time.Millisecond

var (
	// ErrChannelClosed is returned for use of a channel that is not open or was closed
	ErrChannelClosed = errors.New("channel is closed")
	// ErrChannelOpen is returned by Open on a channel that is already open
	ErrChannelOpen = errors.New("channel is already open")
)

// Channel carries envelopes over a physical channel and routes inbound
// envelopes to local sessions. Inbound envelopes are delivered one at a
// time from a single read loop; outbound writes are serialized.
type Channel struct {
	id              string
	physicalChannel PhysicalChannel
	router          *Router
	stats           *Statistics
	logger          logger.Logger

	// State
	state   ChannelState
	stateMu sync.RWMutex

	// Concurrency
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Write queue for serializing writes
	writeQueue chan *writeRequest
}

// writeRequest represents a write request
type writeRequest struct {
	data []byte
	resp chan error
}

// New creates a new channel
func New(id string, physical PhysicalChannel, log logger.Logger) *Channel {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Channel{
		id:              id,
		physicalChannel: physical,
		router:          NewRouter(),
		stats:           NewStatistics(),
		logger:          log,
		state:           ChannelStateClosed,
		ctx:             ctx,
		cancel:          cancel,
		writeQueue:      make(chan *writeRequest, 100),
	}
}

// ID returns the channel ID
func (c *Channel) ID() string {
	return c.id
}

// Open opens the channel and starts processing
func (c *Channel) Open() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == ChannelStateOpen {
		return ErrChannelOpen
	}
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}

	c.state = ChannelStateOpen
	c.logger.Info("Channel %s opening", c.id)

	c.physicalChannel.SetConnectionStateListener(connectionMonitor{c})

	// Start read loop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()

	// Start write loop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()

	c.logger.Info("Channel %s opened", c.id)
	return nil
}

// Close closes the channel
func (c *Channel) Close() error {
	c.stateMu.Lock()
	if c.state == ChannelStateClosed {
		c.stateMu.Unlock()
		return nil
	}
	c.state = ChannelStateClosed
	c.stateMu.Unlock()

	c.logger.Info("Channel %s closing", c.id)

	// Cancel context to stop goroutines
	c.cancel()

	// Close physical channel
	if err := c.physicalChannel.Close(); err != nil {
		c.logger.Error("Error closing physical channel: %v", err)
	}

	// Wait for goroutines to finish
	c.wg.Wait()

	c.logger.Info("Channel %s closed", c.id)
	return nil
}

// connectionMonitor logs and counts physical connection changes
type connectionMonitor struct {
	c *Channel
}

func (m connectionMonitor) OnConnectionEstablished() {
	m.c.stats.ConnectionUp()
	m.c.logger.Info("Channel %s connection established", m.c.id)
}

func (m connectionMonitor) OnConnectionLost() {
	m.c.stats.ConnectionLost()
	m.c.logger.Warn("Channel %s connection lost", m.c.id)
}

// readLoop continuously reads from physical channel
func (c *Channel) readLoop() {
	c.logger.Debug("Channel %s read loop started", c.id)
	defer c.logger.Debug("Channel %s read loop stopped", c.id)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		// Read from physical channel
		data, err := c.physicalChannel.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				// Context cancelled, normal shutdown
				return
			}
			c.logger.Error("Channel %s read error: %v", c.id, err)

			// Back off so a dead link does not spin the loop
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		// Decode and validate at the boundary
		env, err := message.DecodeEnvelope(data)
		if err != nil {
			c.logger.Warn("Channel %s discarding message: %v", c.id, err)
			c.stats.BadMessage()
			continue
		}

		c.stats.MessageRx()
		c.logger.Debug("Channel %s received %s", c.id, env)

		// Route to appropriate session
		if err := c.router.Route(env); err != nil {
			if errors.Is(err, ErrNoSession) {
				c.stats.RoutingError()
			}
			c.logger.Warn("Channel %s routing error: %v", c.id, err)
		}
	}
}

// writeLoop processes write requests
func (c *Channel) writeLoop() {
	c.logger.Debug("Channel %s write loop started", c.id)
	defer c.logger.Debug("Channel %s write loop stopped", c.id)

	for {
		select {
		case <-c.ctx.Done():
			// Drain remaining requests with error
			for {
				select {
				case req := <-c.writeQueue:
					req.resp <- ErrChannelClosed
				default:
					return
				}
			}

		case req := <-c.writeQueue:
			// Write to physical channel
			err := c.physicalChannel.Write(c.ctx, req.data)
			if err != nil {
				c.stats.WriteError()
				c.logger.Error("Channel %s write error: %v", c.id, err)
			} else {
				c.stats.MessageTx()
			}
			req.resp <- err
		}
	}
}

// Send encodes an envelope and writes it once it reaches the head of the
// write queue. Blocks until written, failed, or ctx is done.
func (c *Channel) Send(ctx context.Context, env *message.Envelope) error {
	data, err := message.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env, err)
	}
	return c.write(ctx, data)
}

func (c *Channel) write(ctx context.Context, data []byte) error {
	c.stateMu.RLock()
	if c.state != ChannelStateOpen {
		c.stateMu.RUnlock()
		return ErrChannelClosed
	}
	c.stateMu.RUnlock()

	req := &writeRequest{
		data: data,
		resp: make(chan error, 1),
	}

	select {
	case c.writeQueue <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrChannelClosed
	}

	select {
	case err := <-req.resp:
		return err
	case <-c.ctx.Done():
		return ErrChannelClosed
	}
}

// AddSession adds a session to the channel
func (c *Channel) AddSession(session Session) error {
	if err := c.router.AddSession(session); err != nil {
		return err
	}

	c.stats.SetActiveSessions(uint64(c.router.GetSessionCount()))
	c.logger.Info("Channel %s: Added session %s", c.id, session.PeerID())
	return nil
}

// RemoveSession removes a session from the channel
func (c *Channel) RemoveSession(id string) {
	c.router.RemoveSession(id)
	c.stats.SetActiveSessions(uint64(c.router.GetSessionCount()))
	c.logger.Info("Channel %s: Removed session %s", c.id, id)
}

// GetStatistics returns channel statistics
func (c *Channel) GetStatistics() *Statistics {
	return c.stats
}

// GetPhysicalStatistics returns physical channel statistics
func (c *Channel) GetPhysicalStatistics() TransportStats {
	return c.physicalChannel.Statistics()
}

// State returns the current channel state
func (c *Channel) State() ChannelState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// String returns string representation of channel
func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ID=%s, State=%s, Sessions=%d}",
		c.id, c.State(), c.router.GetSessionCount())
}
