// Package recorder captures the normalized quote stream into local
// parquet files for offline analysis and replay.
package recorder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// QuoteRecord is the parquet row schema for captured quotes.
type QuoteRecord struct {
	MarketID  string  `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Venue     string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	BidPrice  float64 `parquet:"name=bid_price, type=DOUBLE"`
	BidSize   float64 `parquet:"name=bid_size, type=DOUBLE"`
	AskPrice  float64 `parquet:"name=ask_price, type=DOUBLE"`
	AskSize   float64 `parquet:"name=ask_size, type=DOUBLE"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface over a byte
// buffer so files are assembled in memory before hitting disk.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage never seeks backwards.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// Recorder buffers quotes per venue and flushes them to parquet files
// on an interval or when a buffer reaches the batch size.
type Recorder struct {
	cfg config.RecorderConfig
	ctx context.Context
	wg  sync.WaitGroup
	mu  sync.Mutex

	running     bool
	quit        chan struct{}
	buffer      map[models.Protocol][]QuoteRecord
	flushTicker *time.Ticker
	log         *logger.Log

	recorded uint64
	flushed  uint64
	files    uint64
}

// NewRecorder builds a recorder writing under cfg.Directory.
func NewRecorder(cfg config.RecorderConfig) *Recorder {
	return &Recorder{
		cfg:    cfg,
		buffer: make(map[models.Protocol][]QuoteRecord),
		log:    logger.GetLogger(),
	}
}

// Start launches the flush worker.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recorder already running")
	}
	r.running = true
	r.ctx = ctx
	r.quit = make(chan struct{})
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)
	r.mu.Unlock()

	if err := os.MkdirAll(r.cfg.Directory, 0o755); err != nil {
		return fmt.Errorf("failed to create recorder directory: %w", err)
	}

	r.wg.Add(1)
	go r.flushWorker()

	r.log.WithComponent("recorder").WithFields(logger.Fields{
		"directory":      r.cfg.Directory,
		"batch_size":     r.cfg.BatchSize,
		"flush_interval": r.cfg.FlushInterval.String(),
		"compression":    r.cfg.Compression,
	}).Info("recorder started")
	return nil
}

// Stop flushes pending buffers and joins the worker.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.quit)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	r.wg.Wait()
	r.flushBuffers("shutdown")
	r.log.WithComponent("recorder").Info("recorder stopped")
}

// Record buffers one quote. A buffer hitting the batch size flushes
// synchronously on the caller.
func (r *Recorder) Record(q models.Quote) {
	rec := QuoteRecord{
		MarketID:  q.MarketID,
		Venue:     string(q.Venue),
		BidPrice:  q.BidPrice,
		BidSize:   q.BidSize,
		AskPrice:  q.AskPrice,
		AskSize:   q.AskSize,
		Timestamp: q.Timestamp.UnixMicro(),
	}

	r.mu.Lock()
	r.buffer[q.Venue] = append(r.buffer[q.Venue], rec)
	r.recorded++
	full := len(r.buffer[q.Venue]) >= r.cfg.BatchSize
	r.mu.Unlock()

	if full {
		r.flushBuffers("batch_size")
	}
}

// Stats returns recorded/flushed row counts and the number of files
// written.
func (r *Recorder) Stats() (recorded, flushed, files uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded, r.flushed, r.files
}

func (r *Recorder) flushWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("recorder").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-r.ctx.Done():
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-r.quit:
			log.Info("flush worker stopped")
			return
		case <-r.flushTicker.C:
			r.flushBuffers("interval")
		}
	}
}

func (r *Recorder) flushBuffers(reason string) {
	r.mu.Lock()
	buffers := r.buffer
	r.buffer = make(map[models.Protocol][]QuoteRecord)
	r.mu.Unlock()

	total := 0
	for _, records := range buffers {
		total += len(records)
	}
	if total == 0 {
		return
	}

	r.log.WithComponent("recorder").WithFields(logger.Fields{
		"buffers": len(buffers),
		"records": total,
		"reason":  reason,
	}).Debug("flushing quote buffers")

	for venue, records := range buffers {
		if len(records) == 0 {
			continue
		}
		if err := r.writeBatch(venue, records); err != nil {
			r.log.WithComponent("recorder").WithError(err).WithFields(logger.Fields{
				"venue":   string(venue),
				"records": len(records),
			}).Error("failed to write quote batch")
		}
	}
}

func (r *Recorder) writeBatch(venue models.Protocol, records []QuoteRecord) error {
	start := time.Now()
	data, err := r.createParquetFile(records)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	dir := filepath.Join(r.cfg.Directory,
		fmt.Sprintf("venue=%s", venue),
		fmt.Sprintf("date=%s", now.Format("2006-01-02")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}

	filename := fmt.Sprintf("quotes_%s_%s.parquet", now.Format("20060102150405"), uuid.New().String()[:8])
	path := filepath.Join(dir, filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}
	// Rename so readers never observe a partially written file.
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	r.mu.Lock()
	r.flushed += uint64(len(records))
	r.files++
	r.mu.Unlock()

	entry := r.log.WithComponent("recorder")
	logger.LogPerformanceEntry(entry, "recorder", "write_batch", time.Since(start), logger.Fields{
		"records":   len(records),
		"file_size": len(data),
	})
	logger.LogDataFlowEntry(entry, string(venue), path, len(records), "quotes")
	return nil
}

func (r *Recorder) createParquetFile(records []QuoteRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(QuoteRecord), 2)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch r.cfg.Compression {
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
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
