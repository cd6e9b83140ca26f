package metrics

import "github.com/svirikk/agree-OIV2/logger"

// DropMetric identifies the metric name emitted when feed messages are dropped.
type DropMetric string

const (
	// DropMetricTradeRaw records dropped trade stream messages.
	DropMetricTradeRaw DropMetric = "trade_messages_dropped"
	// DropMetricOpenInterestRaw records dropped open interest stream messages.
	DropMetricOpenInterestRaw DropMetric = "open_interest_messages_dropped"
	// DropMetricMarkPriceRaw records dropped mark price stream messages.
	DropMetricMarkPriceRaw DropMetric = "mark_price_messages_dropped"
	// DropMetricMalformed records events rejected by boundary validation.
	DropMetricMalformed DropMetric = "malformed_events_dropped"
	// DropMetricArchive records alert records dropped on archive backpressure.
	DropMetricArchive DropMetric = "archive_records_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped feed message.
// The metric value is always incremented by one so callers should invoke this
// helper for each dropped message. Optional metadata (stream, symbol, stage)
// is added to the metric fields when provided.
func EmitDropMetric(log *logger.Log, metric DropMetric, stream, symbol, stage string) {
	fields := logger.Fields{}
	if stream != "" {
		fields["stream"] = stream
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	log.LogMetric("feed_drops", string(metric), 1, "counter", fields)
	IncrementEventDropped(stream, string(metric))
}
