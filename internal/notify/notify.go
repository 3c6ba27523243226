// Package notify fans newly found slots out to the configured
// channels. Deduplication happened upstream in the poller; this is pure
// best-effort, at-least-once fan-out with per-channel isolation.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"permitwatch/pkg/slots"
)

// Channel delivers one batch of slots to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, newSlots []slots.Slot) error
}

// ChannelResult records one channel's outcome for the cycle
type ChannelResult struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// Dispatcher invokes every channel independently
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	log      *zap.Logger
}

// NewDispatcher builds a dispatcher over the given channels
func NewDispatcher(channels []Channel, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		timeout:  30 * time.Second,
		log:      log,
	}
}

// Channels returns the configured channel count
func (d *Dispatcher) Channels() int {
	return len(d.channels)
}

// Dispatch sends the batch to every channel. A failing channel is
// recorded and never prevents the rest from being attempted; results
// come back in channel order.
func (d *Dispatcher) Dispatch(ctx context.Context, newSlots []slots.Slot) []ChannelResult {
	if len(newSlots) == 0 || len(d.channels) == 0 {
		return nil
	}

	results := make([]ChannelResult, len(d.channels))
	g, gctx := errgroup.WithContext(ctx)

	for i, ch := range d.channels {
		i, ch := i, ch
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(gctx, d.timeout)
			defer cancel()

			if err := ch.Send(sendCtx, newSlots); err != nil {
				d.log.Warn("📵 channel failed", zap.String("channel", ch.Name()), zap.Error(err))
				results[i] = ChannelResult{Channel: ch.Name(), Success: false, Detail: err.Error()}
				return nil
			}
			d.log.Info("📱 notification sent", zap.String("channel", ch.Name()))
			results[i] = ChannelResult{Channel: ch.Name(), Success: true}
			return nil
		})
	}

	// Workers never return errors; failures live in the results.
	_ = g.Wait()
	return results
}
