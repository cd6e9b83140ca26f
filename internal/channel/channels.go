package channel

import (
	"github.com/svirikk/agree-OIV2/internal/channel/oi"
	"github.com/svirikk/agree-OIV2/internal/channel/trade"
)

type Channels struct {
	Trade *trade.Channels
	OI    *oi.Channels
}

func NewChannels(tradeBufferSize, eventBufferSize int) *Channels {
	return &Channels{
		Trade: trade.NewChannels(tradeBufferSize),
		OI:    oi.NewChannels(eventBufferSize),
	}
}

func (c *Channels) Close() {
	if c.Trade != nil {
		c.Trade.Close()
	}
	if c.OI != nil {
		c.OI.Close()
	}
}
