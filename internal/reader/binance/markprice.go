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
	oichannel "github.com/svirikk/agree-OIV2/internal/channel/oi"
	metrics "github.com/svirikk/agree-OIV2/internal/metrics"
	"github.com/svirikk/agree-OIV2/internal/models"
	"github.com/svirikk/agree-OIV2/logger"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
)

// Binance_MarkPrice_Reader streams mark price updates from the Binance
// futures premium-index websocket.
type Binance_MarkPrice_Reader struct {
	config   *appconfig.Config
	channels *oichannel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
}

// Binance_MarkPrice_NewReader constructs a new reader for the configured symbols.
func Binance_MarkPrice_NewReader(cfg *appconfig.Config, ch *oichannel.Channels, symbols []string) *Binance_MarkPrice_Reader {
	return &Binance_MarkPrice_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  symbols,
	}
}

// Binance_MarkPrice_Start launches websocket subscriptions per symbol.
func (r *Binance_MarkPrice_Reader) Binance_MarkPrice_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance mark price reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Binance.Future.MarkPrice
	if !cfg.Enabled {
		r.log.WithComponent("binance_markprice_reader").Warn("binance mark price stream disabled via configuration")
		return fmt.Errorf("binance mark price stream disabled")
	}

	if len(r.symbols) == 0 {
		if len(cfg.Symbols) == 0 {
			return fmt.Errorf("no symbols configured for binance mark price reader")
		}
		r.symbols = cfg.Symbols
	}

	for _, symbol := range r.symbols {
		s := strings.ToUpper(symbol)
		r.wg.Add(1)
		go r.streamSymbol(s, cfg)
	}

	r.log.WithComponent("binance_markprice_reader").WithFields(logger.Fields{
		"symbols": r.symbols,
	}).Info("binance mark price reader started")
	return nil
}

// Binance_MarkPrice_Stop waits for all websocket workers to exit.
func (r *Binance_MarkPrice_Reader) Binance_MarkPrice_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_markprice_reader").Info("stopping binance mark price reader")
	r.wg.Wait()
	r.log.WithComponent("binance_markprice_reader").Info("binance mark price reader stopped")
}

type binanceMarkPriceEvent struct {
	Event       string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	IndexPrice  string `json:"i"`
	FundingRate string `json:"r"`
	NextFunding int64  `json:"T"`
}

func (r *Binance_MarkPrice_Reader) streamSymbol(symbol string, cfg appconfig.StreamConfig) {
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

	// The premium index stream only supports the default 3s cadence or @1s.
	intervalSuffix := ""
	if iv := cfg.StreamInterval(); iv > 0 && iv <= time.Second {
		intervalSuffix = "@1s"
	}

	endpoint := fmt.Sprintf("%s/%s@markPrice%s", baseURL, strings.ToLower(symbol), intervalSuffix)

	log := r.log.WithComponent("binance_markprice_reader").WithFields(logger.Fields{
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
			log.WithError(err).Warn("failed to connect to binance mark price stream")
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
				log.WithError(err).Warn("binance mark price stream error, reconnecting")
				break
			}
			logger.IncrementEventRead("mark_price", len(raw))
			r.handleMessage(raw, symbol)
		}

		select {
		case <-time.After(reconnect):
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Binance_MarkPrice_Reader) handleMessage(raw []byte, symbol string) {
	var evt binanceMarkPriceEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		r.log.WithComponent("binance_markprice_reader").WithError(err).Debug("failed to decode mark price payload")
		return
	}

	price, err := strconv.ParseFloat(evt.MarkPrice, 64)
	if err != nil {
		metrics.EmitDropMetric(r.log, metrics.DropMetricMalformed, "mark_price", symbol, "parse")
		return
	}
	funding, _ := strconv.ParseFloat(evt.FundingRate, 64)

	eventTime := time.Now().UTC()
	if evt.EventTime > 0 {
		eventTime = time.UnixMilli(evt.EventTime)
	}

	msg := models.RawMarkPriceMessage{
		Exchange:    "binance",
		Symbol:      strings.ToUpper(symbol),
		MarkPrice:   price,
		FundingRate: funding,
		Timestamp:   eventTime,
		Payload:     append([]byte(nil), raw...),
	}

	if !r.channels.SendPrice(r.ctx, msg) {
		if r.ctx.Err() != nil {
			return
		}
		metrics.EmitDropMetric(r.log, metrics.DropMetricMarkPriceRaw, "mark_price", msg.Symbol, "raw")
		r.log.WithComponent("binance_markprice_reader").WithFields(logger.Fields{
			"symbol": msg.Symbol,
		}).Warn("dropping binance mark price message due to backpressure")
	}
}
