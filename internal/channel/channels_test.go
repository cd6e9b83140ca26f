package channel

import (
	"context"
	"testing"
	"time"

	"github.com/svirikk/agree-OIV2/internal/models"
)

func TestNewChannels(t *testing.T) {
	ch := NewChannels(4, 2)
	if ch.Trade == nil || ch.OI == nil {
		t.Fatal("expected both channel groups initialized")
	}
	ch.Close()

	if _, ok := <-ch.Trade.Raw; ok {
		t.Error("trade channel should be closed and drained")
	}
	if _, ok := <-ch.OI.OI; ok {
		t.Error("open interest channel should be closed and drained")
	}
}

func TestSendRawNonBlocking(t *testing.T) {
	ch := NewChannels(1, 1)
	defer ch.Close()
	ctx := context.Background()

	msg := models.RawTradeMessage{Symbol: "BTCUSDT", Price: 100, Quantity: 1, Timestamp: time.Now()}
	if !ch.Trade.SendRaw(ctx, msg) {
		t.Fatal("send into empty buffer should succeed")
	}
	if ch.Trade.SendRaw(ctx, msg) {
		t.Error("send into full buffer should drop, not block")
	}

	stats := ch.Trade.GetStats()
	if stats.Sent != 1 || stats.Dropped != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestSendEventsNonBlocking(t *testing.T) {
	ch := NewChannels(1, 1)
	defer ch.Close()
	ctx := context.Background()

	oiMsg := models.RawOIMessage{Symbol: "BTCUSDT", Value: 100, Timestamp: time.Now()}
	if !ch.OI.SendOI(ctx, oiMsg) {
		t.Fatal("open interest send should succeed")
	}
	if ch.OI.SendOI(ctx, oiMsg) {
		t.Error("full open interest buffer should drop")
	}

	priceMsg := models.RawMarkPriceMessage{Symbol: "BTCUSDT", MarkPrice: 100, Timestamp: time.Now()}
	if !ch.OI.SendPrice(ctx, priceMsg) {
		t.Fatal("mark price send should succeed")
	}

	stats := ch.OI.GetStats()
	if stats.Sent != 2 || stats.Dropped != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
