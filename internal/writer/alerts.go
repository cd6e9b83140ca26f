package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "github.com/svirikk/agree-OIV2/config"
	"github.com/svirikk/agree-OIV2/internal/models"
	"github.com/svirikk/agree-OIV2/logger"
)

type alertParquetRecord struct {
	AlertID          string  `parquet:"name=alert_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Instrument       string  `parquet:"name=instrument, type=BYTE_ARRAY, convertedtype=UTF8"`
	FinalDirection   string  `parquet:"name=final_direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	BaseDirection    string  `parquet:"name=base_direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	DecisionKind     string  `parquet:"name=decision_kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalVolumeUSD   float64 `parquet:"name=total_volume_usd, type=DOUBLE"`
	DominancePct     float64 `parquet:"name=dominance_pct, type=DOUBLE"`
	PriceChangePct   float64 `parquet:"name=price_change_pct, type=DOUBLE"`
	LastPrice        float64 `parquet:"name=last_price, type=DOUBLE"`
	TradeCount       int64   `parquet:"name=trade_count, type=INT64"`
	OINow            float64 `parquet:"name=oi_now, type=DOUBLE"`
	OIPast           float64 `parquet:"name=oi_past, type=DOUBLE"`
	OIDeltaPct       float64 `parquet:"name=oi_delta_pct, type=DOUBLE"`
	OIPriceDeltaPct  float64 `parquet:"name=oi_price_delta_pct, type=DOUBLE"`
	OIUsed           bool    `parquet:"name=oi_used, type=BOOLEAN"`
	OverrideApplied  bool    `parquet:"name=override_applied, type=BOOLEAN"`
	Reason           string  `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmittedTimestamp int64   `parquet:"name=emitted_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type alertBatch struct {
	Instrument  string
	Entries     []models.AlertRecord
	Timestamp   time.Time
	Reason      string
	RecordCount int
}

type alertMemFile struct {
	buffer *bytes.Buffer
}

func newAlertMemFile() *alertMemFile {
	return &alertMemFile{buffer: &bytes.Buffer{}}
}

func (m *alertMemFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *alertMemFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *alertMemFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *alertMemFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *alertMemFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *alertMemFile) Close() error                              { return nil }
func (m *alertMemFile) Bytes() []byte                             { return m.buffer.Bytes() }

// AlertWriter archives emitted alert records to S3 as partitioned Parquet
// files. The archive is best-effort: failures are logged and never surface
// back into the emit path.
type AlertWriter struct {
	cfg      *appconfig.Config
	rawChan  <-chan models.AlertRecord
	s3Client *s3.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	log *logger.Log

	mu          sync.Mutex
	buffer      map[string][]models.AlertRecord
	flushTicker *time.Ticker
	maxBuffer   int

	jobCh   chan alertBatch
	running bool
}

// NewAlertWriter configures an AlertWriter backed by the provided configuration.
func NewAlertWriter(cfg *appconfig.Config, raw <-chan models.AlertRecord) (*AlertWriter, error) {
	if !cfg.Storage.S3.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}
	if raw == nil {
		return nil, fmt.Errorf("nil archive channel provided")
	}

	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	maxBuffer := cfg.Archive.MaxBuffer
	if maxBuffer <= 0 {
		maxBuffer = 256
	}

	jobCapacity := maxBuffer * 2
	if jobCapacity < 64 {
		jobCapacity = 64
	}

	return &AlertWriter{
		cfg:       cfg,
		rawChan:   raw,
		s3Client:  s3Client,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		buffer:    make(map[string][]models.AlertRecord),
		maxBuffer: maxBuffer,
		jobCh:     make(chan alertBatch, jobCapacity),
	}, nil
}

// Start launches the ingestion, flush and upload workers.
func (w *AlertWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("alert writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.buffer = make(map[string][]models.AlertRecord)
	w.flushTicker = time.NewTicker(w.cfg.Archive.FlushInterval())
	w.mu.Unlock()

	w.log.WithComponent("alert_writer").WithFields(logger.Fields{
		"flush_interval": w.cfg.Archive.FlushInterval(),
		"max_buffer":     w.maxBuffer,
	}).Info("starting alert archive writer")

	w.wg.Add(1)
	go w.ingest()

	w.wg.Add(1)
	go w.flushLoop()

	w.wg.Add(1)
	go w.uploadWorker()

	return nil
}

// Stop flushes pending buffers and waits for all workers to finish.
func (w *AlertWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	ticker := w.flushTicker
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ticker != nil {
		ticker.Stop()
	}

	w.flushBuffers("shutdown")
	close(w.jobCh)
	w.wg.Wait()
	w.log.WithComponent("alert_writer").Info("alert archive writer stopped")
}

func (w *AlertWriter) ingest() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case record, ok := <-w.rawChan:
			if !ok {
				w.flushBuffers("channel_closed")
				return
			}
			w.addRecord(record)
		}
	}
}

func (w *AlertWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *AlertWriter) uploadWorker() {
	defer w.wg.Done()
	for batch := range w.jobCh {
		w.processBatch(batch)
	}
}

func (w *AlertWriter) addRecord(record models.AlertRecord) {
	key := strings.ToUpper(record.Instrument)

	var flushEntries []models.AlertRecord
	w.mu.Lock()
	w.buffer[key] = append(w.buffer[key], record)
	if len(w.buffer[key]) >= w.maxBuffer {
		flushEntries = w.buffer[key]
		delete(w.buffer, key)
	}
	w.mu.Unlock()

	if len(flushEntries) > 0 {
		w.enqueueBatch(key, flushEntries, "max_buffer")
	}
}

func (w *AlertWriter) flushBuffers(reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.AlertRecord)
	w.mu.Unlock()

	for key, entries := range buffers {
		if len(entries) == 0 {
			continue
		}
		w.enqueueBatch(key, entries, reason)
	}
}

func (w *AlertWriter) enqueueBatch(instrument string, entries []models.AlertRecord, reason string) {
	ts := time.Now().UTC()
	if len(entries) > 0 && entries[len(entries)-1].EmittedAtMs > 0 {
		ts = time.UnixMilli(entries[len(entries)-1].EmittedAtMs).UTC()
	}
	batch := alertBatch{
		Instrument:  instrument,
		Entries:     entries,
		Timestamp:   ts,
		Reason:      reason,
		RecordCount: len(entries),
	}
	select {
	case w.jobCh <- batch:
	case <-w.ctx.Done():
	}
}

func (w *AlertWriter) processBatch(batch alertBatch) {
	entryLog := w.log.WithComponent("alert_writer").WithFields(logger.Fields{
		"instrument":   batch.Instrument,
		"record_count": batch.RecordCount,
		"reason":       batch.Reason,
	})

	if batch.RecordCount == 0 {
		entryLog.Debug("alert batch empty, skipping")
		return
	}

	key := w.generateS3Key(batch)
	data, size, err := w.createParquet(batch)
	if err != nil {
		entryLog.WithError(err).Error("failed to create alert parquet")
		return
	}

	if err := w.uploadToS3(key, data); err != nil {
		entryLog.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to upload alert parquet")
		return
	}

	entryLog.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": size,
	}).Info("alert batch uploaded")
}

func (w *AlertWriter) createParquet(batch alertBatch) ([]byte, int64, error) {
	records := make([]alertParquetRecord, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		rec := alertParquetRecord{
			AlertID:          entry.AlertID,
			Instrument:       entry.Instrument,
			FinalDirection:   string(entry.FinalDirection),
			BaseDirection:    string(entry.BaseDirection),
			DecisionKind:     string(entry.DecisionKind),
			TotalVolumeUSD:   entry.TotalVolumeUSD,
			DominancePct:     entry.DominancePct,
			PriceChangePct:   entry.PriceChangePct,
			LastPrice:        entry.LastPrice,
			TradeCount:       int64(entry.TradeCount),
			OIUsed:           entry.OIUsed,
			OverrideApplied:  entry.OverrideApplied,
			Reason:           entry.Reason,
			EmittedTimestamp: entry.EmittedAtMs,
		}
		if entry.OI != nil {
			rec.OINow = entry.OI.Now
			rec.OIPast = entry.OI.Past
			rec.OIDeltaPct = entry.OI.DeltaPct
			rec.OIPriceDeltaPct = entry.OI.PriceDeltaPct
		}
		records = append(records, rec)
	}

	mem := newAlertMemFile()
	pw, err := writer.NewParquetWriter(mem, new(alertParquetRecord), 1)
	if err != nil {
		return nil, 0, fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(w.cfg.Archive.Compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, 0, fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("finalize parquet: %w", err)
	}

	data := mem.Bytes()
	return data, int64(len(data)), nil
}

func (w *AlertWriter) generateS3Key(batch alertBatch) string {
	datePart := batch.Timestamp.UTC().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s_alerts.parquet",
		strings.ToUpper(batch.Instrument),
		time.Now().UTC().Format("20060102150405")+uuid.NewString(),
	)
	key := filepath.Join(
		"alerts",
		fmt.Sprintf("instrument=%s", strings.ToUpper(batch.Instrument)),
		fmt.Sprintf("date=%s", datePart),
		filename,
	)
	return filepath.ToSlash(key)
}

func (w *AlertWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  w.cfg.Archive.Compression,
			"oiv2-version": w.cfg.OIV2.Version,
		},
	}

	ctx, cancel := context.WithTimeout(w.ctx, 2*time.Minute)
	defer cancel()
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("upload alert parquet: %w", err)
	}
	return nil
}
