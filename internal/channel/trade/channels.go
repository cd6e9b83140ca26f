package trade

import (
	"context"
	"sync"

	"github.com/svirikk/agree-OIV2/internal/models"
	"github.com/svirikk/agree-OIV2/logger"
)

// ChannelStats keeps counters for telemetry.
type ChannelStats struct {
	Sent    int64
	Dropped int64
}

// Channels exposes the raw executed-trade stream.
type Channels struct {
	Raw chan models.RawTradeMessage

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(bufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw: make(chan models.RawTradeMessage, bufferSize),
		log: log,
	}

	log.WithComponent("trade_channels").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("trade channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	c.log.WithComponent("trade_channels").Info("trade channels closed")
}

// SendRaw enqueues a trade without blocking. Returns false when the buffer is
// full or the context is done.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawTradeMessage) bool {
	select {
	case c.Raw <- msg:
		c.statsMutex.Lock()
		c.stats.Sent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.Dropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
