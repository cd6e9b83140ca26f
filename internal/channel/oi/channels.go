package oi

import (
	"context"
	"sync"

	"github.com/svirikk/agree-OIV2/internal/models"
	"github.com/svirikk/agree-OIV2/logger"
)

// ChannelStats keeps counters for telemetry.
type ChannelStats struct {
	OISent       int64
	OIDropped    int64
	PriceSent    int64
	PriceDropped int64
}

// Channels carries the open-interest and mark-price streams side by side; both
// feed the same history cache.
type Channels struct {
	OI    chan models.RawOIMessage
	Price chan models.RawMarkPriceMessage

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(bufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		OI:    make(chan models.RawOIMessage, bufferSize),
		Price: make(chan models.RawMarkPriceMessage, bufferSize),
		log:   log,
	}

	log.WithComponent("oi_channels").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("open-interest channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.OI)
	close(c.Price)
	c.log.WithComponent("oi_channels").Info("open-interest channels closed")
}

func (c *Channels) SendOI(ctx context.Context, msg models.RawOIMessage) bool {
	select {
	case c.OI <- msg:
		c.statsMutex.Lock()
		c.stats.OISent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.OIDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) SendPrice(ctx context.Context, msg models.RawMarkPriceMessage) bool {
	select {
	case c.Price <- msg:
		c.statsMutex.Lock()
		c.stats.PriceSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.PriceDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
