package store

import (
	"context"
	"time"

	"avaneesh/shotxfer/pkg/endpoint"
	"avaneesh/shotxfer/pkg/internal/logger"
	"avaneesh/shotxfer/pkg/types"
)

// Recorder is an endpoint.Handler that saves every delivered screenshot,
// then passes it on to next
type Recorder struct {
	store   Store
	next    endpoint.Handler
	logger  logger.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRecorder creates a recorder. next may be nil.
func NewRecorder(store Store, next endpoint.Handler, log logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Recorder{
		store:   store,
		next:    next,
		logger:  log,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// OnScreenshot implements endpoint.Handler. A failed save is logged and
// does not stop delivery to next.
func (r *Recorder) OnScreenshot(origin types.PeerIdentity, payload *string) {
	rec, err := NewRecord(origin, payload, r.now())
	if err != nil {
		r.logger.Error("Recorder: %v", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.Save(ctx, rec); err != nil {
			r.logger.Error("Recorder: save screenshot from %s: %v", origin, err)
		} else {
			r.logger.Info("Recorder: stored %s from %s (%d bytes, failed=%t)", rec.Key, origin, rec.Size, rec.Failed)
		}
		cancel()
	}

	if r.next != nil {
		r.next.OnScreenshot(origin, payload)
	}
}
