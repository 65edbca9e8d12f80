// Package writer archives cleaned sales batches to S3 as parquet files,
// partitioned by category and date, so historical order data survives
// outside the operational database.
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
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "salesflow/config"
	"salesflow/logger"
	"salesflow/models"
)

// ParquetOrderRecord is the on-disk row layout of an archived order.
type ParquetOrderRecord struct {
	OrderID    string  `parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ItemID     int64   `parquet:"name=item_id, type=INT64"`
	ItemName   string  `parquet:"name=item_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	UnitPrice  float64 `parquet:"name=unit_price, type=DOUBLE"`
	Quantity   int32   `parquet:"name=quantity, type=INT32"`
	TotalPrice float64 `parquet:"name=total_price, type=DOUBLE"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	Category   string  `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrderType  string  `parquet:"name=order_type, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)  { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// ArchiveWriter consumes cleaned batches from the pipeline, buffers them
// per category and flushes each buffer to S3 on an interval.
type ArchiveWriter struct {
	config      *appconfig.Config
	batches     <-chan models.CleanBatch
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      map[string][]models.CleanOrderRecord
	flushTicker *time.Ticker
}

func NewArchiveWriter(cfg *appconfig.Config, batches <-chan models.CleanBatch) (*ArchiveWriter, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("archive_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	w := &ArchiveWriter{
		config:   cfg,
		batches:  batches,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("archive writer initialized")

	return w, nil
}

func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting archive writer")

	w.buffer = make(map[string][]models.CleanOrderRecord)
	w.flushTicker = time.NewTicker(w.config.Archive.FlushInterval)

	w.wg.Add(1)
	go w.worker()

	w.wg.Add(1)
	go w.flushWorker()

	log.Info("archive writer started successfully")
	return nil
}

func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("archive_writer").Info("stopping archive writer")
	w.wg.Wait()
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

func (w *ArchiveWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"worker": "consume"})
	log.Info("starting archive consumer")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case batch, ok := <-w.batches:
			if !ok {
				log.Info("batch channel closed, worker stopping")
				return
			}
			w.addBatch(batch)
		}
	}
}

func (w *ArchiveWriter) addBatch(batch models.CleanBatch) {
	w.mu.Lock()
	for _, r := range batch.Records {
		w.buffer[r.Category] = append(w.buffer[r.Category], r)
	}
	w.mu.Unlock()

	logger.LogDataFlowEntry(w.log.WithComponent("archive_writer"),
		"archive_channel", "category_buffer", len(batch.Records), "clean_records")
}

func (w *ArchiveWriter) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *ArchiveWriter) flushBuffers(reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.CleanOrderRecord)
	w.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	for category, records := range buffers {
		if len(records) == 0 {
			continue
		}
		w.processCategory(category, records)
	}
}

func (w *ArchiveWriter) processCategory(category string, records []models.CleanOrderRecord) {
	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"category":     category,
		"record_count": len(records),
		"operation":    "process_category",
	})

	s3Key := generateS3Key(category, time.Now().UTC())
	log = log.WithFields(logger.Fields{"s3_key": s3Key})

	parquetData, fileSize, err := createParquetFile(records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := w.uploadToS3(s3Key, parquetData); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket}).
			Error("failed to upload to S3")
		return
	}

	log.WithFields(logger.Fields{"file_size": fileSize}).Info("category archive uploaded successfully")
}

// generateS3Key builds the partitioned object key for one category flush.
func generateS3Key(category string, ts time.Time) string {
	safeCategory := strings.ToLower(strings.ReplaceAll(category, " ", "_"))

	parts := []string{
		fmt.Sprintf("category=%s", safeCategory),
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", ts.Month()),
		fmt.Sprintf("day=%02d", ts.Day()),
	}

	filename := fmt.Sprintf("sales_%s_%s_%s.parquet",
		safeCategory,
		ts.Format("20060102150405"),
		uuid.New().String()[:8])

	key := filepath.Join(append(parts, filename)...)
	return filepath.ToSlash(key)
}

func createParquetFile(records []models.CleanOrderRecord) ([]byte, int64, error) {
	fw := newMemoryFileWriter()

	pw, err := parquetwriter.NewParquetWriter(fw, new(ParquetOrderRecord), 4)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		row := ParquetOrderRecord{
			OrderID:    r.OrderID,
			ItemID:     int64(r.ItemID),
			ItemName:   r.ItemName,
			UnitPrice:  r.UnitPrice.InexactFloat64(),
			Quantity:   int32(r.Quantity),
			TotalPrice: r.TotalPrice.InexactFloat64(),
			Timestamp:  r.Timestamp.UnixMilli(),
			Category:   r.Category,
			OrderType:  r.OrderType,
		}
		if err := pw.Write(row); err != nil {
			return nil, 0, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	data := fw.Bytes()
	return data, int64(len(data)), nil
}

// uploadContext bounds an upload with its own timeout, detached from the
// writer context: the shutdown flush runs after w.ctx is already cancelled
// and its uploads must still complete.
func (w *ArchiveWriter) uploadContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(w.ctx), 30*time.Second)
}

func (w *ArchiveWriter) uploadToS3(key string, data []byte) error {
	ctx, cancel := w.uploadContext()
	defer cancel()

	_, err := w.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.config.Storage.S3.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}
