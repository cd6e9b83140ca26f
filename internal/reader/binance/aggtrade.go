package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "github.com/svirikk/agree-OIV2/config"
	tradechannel "github.com/svirikk/agree-OIV2/internal/channel/trade"
	metrics "github.com/svirikk/agree-OIV2/internal/metrics"
	"github.com/svirikk/agree-OIV2/internal/models"
	"github.com/svirikk/agree-OIV2/logger"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
)

// Binance_Trade_Reader streams aggregated trade events from Binance futures
// websockets.
type Binance_Trade_Reader struct {
	config   *appconfig.Config
	channels *tradechannel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
}

// Binance_Trade_NewReader constructs a new reader for the configured symbols.
func Binance_Trade_NewReader(cfg *appconfig.Config, ch *tradechannel.Channels, symbols []string) *Binance_Trade_Reader {
	return &Binance_Trade_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  symbols,
	}
}

// Binance_Trade_Start launches websocket subscriptions per symbol.
func (r *Binance_Trade_Reader) Binance_Trade_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance trade reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Binance.Future.Trades
	if !cfg.Enabled {
		r.log.WithComponent("binance_trade_reader").Warn("binance trade stream disabled via configuration")
		return fmt.Errorf("binance trade stream disabled")
	}

	if len(r.symbols) == 0 {
		if len(cfg.Symbols) == 0 {
			return fmt.Errorf("no symbols configured for binance trade reader")
		}
		r.symbols = cfg.Symbols
	}

	for _, symbol := range r.symbols {
		s := strings.ToUpper(symbol)
		r.wg.Add(1)
		go r.streamSymbol(s, cfg)
	}

	r.log.WithComponent("binance_trade_reader").WithFields(logger.Fields{
		"symbols": r.symbols,
	}).Info("binance trade reader started")
	return nil
}

// Binance_Trade_Stop waits for all websocket workers to exit.
func (r *Binance_Trade_Reader) Binance_Trade_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_trade_reader").Info("stopping binance trade reader")
	r.wg.Wait()
	r.log.WithComponent("binance_trade_reader").Info("binance trade reader stopped")
}

type binanceAggTradeEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	// Maker reports whether the buyer was the passive side.
	Maker bool `json:"m"`
}

func (r *Binance_Trade_Reader) streamSymbol(symbol string, cfg appconfig.StreamConfig) {
	defer r.wg.Done()

	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		baseURL = futures.BaseWsMainUrl
	}
	baseURL = strings.TrimRight(baseURL, "/")

	reconnect := cfg.ReconnectDelay()
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}

	endpoint := fmt.Sprintf("%s/%s@aggTrade", baseURL, strings.ToLower(symbol))

	log := r.log.WithComponent("binance_trade_reader").WithFields(logger.Fields{
		"symbol":   symbol,
		"endpoint": endpoint,
	})

	dialer := websocket.Dialer{}

	for {
		if r.ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.Dial(endpoint, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to binance trade stream")
			select {
			case <-time.After(reconnect):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				log.WithError(err).Warn("binance trade stream error, reconnecting")
				break
			}
			logger.IncrementTradeRead(len(raw))
			r.handleMessage(raw, symbol)
		}

		select {
		case <-time.After(reconnect):
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Binance_Trade_Reader) handleMessage(raw []byte, symbol string) {
	var evt binanceAggTradeEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		r.log.WithComponent("binance_trade_reader").WithError(err).Debug("failed to decode trade payload")
		return
	}

	price, err := strconv.ParseFloat(evt.Price, 64)
	if err != nil {
		metrics.EmitDropMetric(r.log, metrics.DropMetricMalformed, "trade", symbol, "parse")
		return
	}
	quantity, err := strconv.ParseFloat(evt.Quantity, 64)
	if err != nil {
		metrics.EmitDropMetric(r.log, metrics.DropMetricMalformed, "trade", symbol, "parse")
		return
	}

	ts := evt.TradeTime
	if ts == 0 {
		ts = evt.EventTime
	}
	eventTime := time.UnixMilli(ts)
	if ts == 0 {
		eventTime = time.Now().UTC()
	}

	msg := models.RawTradeMessage{
		Exchange:     "binance",
		Symbol:       strings.ToUpper(symbol),
		Price:        price,
		Quantity:     quantity,
		BuyerIsMaker: evt.Maker,
		Timestamp:    eventTime,
		Payload:      append([]byte(nil), raw...),
	}

	if !r.channels.SendRaw(r.ctx, msg) {
		if r.ctx.Err() != nil {
			return
		}
		metrics.EmitDropMetric(r.log, metrics.DropMetricTradeRaw, "trade", msg.Symbol, "raw")
		r.log.WithComponent("binance_trade_reader").WithFields(logger.Fields{
			"symbol": msg.Symbol,
		}).Warn("dropping binance trade message due to backpressure")
	}
}
