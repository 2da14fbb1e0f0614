package depth

import (
	"context"
	"sync"

	"deltaflow/logger"
	"deltaflow/models"
)

type ChannelStats struct {
	Sent    int64
	Dropped int64
}

// Channels decouples the websocket read loop from the consumer callback.
// Updates flow through a bounded buffer; a full buffer drops the newest
// update rather than blocking the reader.
type Channels struct {
	Updates chan models.DepthUpdate

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(updateBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Updates: make(chan models.DepthUpdate, updateBufferSize),
		log:     log,
	}

	log.WithComponent("depth_channels").WithFields(logger.Fields{
		"update_buffer_size": updateBufferSize,
	}).Info("depth channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Updates)
	stats := c.GetStats()
	c.log.LogMetric("depth_channels", "updates_sent", stats.Sent, "counter", nil)
	c.log.LogMetric("depth_channels", "updates_dropped", stats.Dropped, "counter", nil)
	c.log.WithComponent("depth_channels").Info("depth channels closed")
}

func (c *Channels) IncrementSent() {
	c.statsMutex.Lock()
	c.stats.Sent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementDropped() {
	c.statsMutex.Lock()
	c.stats.Dropped++
	c.statsMutex.Unlock()
}

// Send enqueues an update without ever blocking the caller. It returns false
// when the context is done or the buffer is full.
func (c *Channels) Send(ctx context.Context, upd models.DepthUpdate) bool {
	select {
	case c.Updates <- upd:
		c.IncrementSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementDropped()
		logger.IncrementUpdateDropped()
		return false
	}
}

// Dispatch drains the update buffer and invokes fn for each update, in the
// order the updates were enqueued. It returns when the context is cancelled.
func (c *Channels) Dispatch(ctx context.Context, fn func(models.DepthUpdate)) {
	delivered := 0
	defer func() {
		logger.LogDataFlowEntry(c.log.WithComponent("depth_channels"),
			"depth_updates", "consumer_callback", delivered, "depth_update")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-c.Updates:
			if !ok {
				return
			}
			fn(upd)
			delivered++
		}
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
