package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dforsythe/phxsocket"
	"github.com/dforsythe/phxsocket/internal/config"
)

// shutdownFlushTimeout bounds the final flush once the recorder is stopping.
const shutdownFlushTimeout = 5 * time.Second

// row is one recorded message.
type row struct {
	ReceivedAt time.Time
	Topic      string
	Event      string
	Ref        string
	JoinRef    string
	Payload    []byte
}

// sink receives finished batches. The production sink writes to PostgreSQL;
// tests substitute their own.
type sink interface {
	writeBatch(ctx context.Context, rows []row) error
}

// Stats counts recorder activity.
type Stats struct {
	Received int64
	Dropped  int64
	Inserts  int64
	Flushes  int64
	Errors   int64
}

// Recorder buffers delivered messages and batch-inserts them. It implements
// the socket Subscriber contract: Deliver never blocks (messages beyond the
// buffer are dropped and counted), and closing the recorder makes the socket
// leave its topics.
type Recorder struct {
	cfg    config.RecorderConfig
	logger *slog.Logger
	sink   sink

	input chan row
	done  chan struct{}
	once  sync.Once

	mu    sync.Mutex
	stats Stats
}

// New creates a recorder writing to db.
func New(cfg config.RecorderConfig, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	return newWithSink(cfg, &pgxSink{db: db}, logger)
}

func newWithSink(cfg config.RecorderConfig, s sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = config.DefaultBufferSize
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger,
		sink:   s,
		input:  make(chan row, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

// Deliver buffers one message for recording. It never blocks: when the
// buffer is full the message is dropped and counted.
func (r *Recorder) Deliver(msg *phxsocket.Message) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		r.logger.Warn("unmarshalable payload, recording null",
			"topic", msg.Topic,
			"event", msg.Event,
			"error", err,
		)
		payload = []byte("null")
	}

	item := row{
		ReceivedAt: time.Now().UTC(),
		Topic:      msg.Topic,
		Event:      msg.Event,
		Ref:        msg.Ref,
		JoinRef:    msg.JoinRef,
		Payload:    payload,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case r.input <- item:
		r.stats.Received++
	default:
		r.stats.Dropped++
		r.logger.Warn("recorder buffer full, dropping message",
			"topic", msg.Topic,
			"event", msg.Event,
		)
	}
}

// Done reports recorder termination to the socket.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Close terminates the recorder. Run drains the buffer and performs a final
// flush before returning. Idempotent.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.done) })
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run consumes the buffer until ctx is cancelled or Close is called. Batches
// are written when full and on every flush interval; shutdown drains whatever
// is still buffered and flushes it with a bounded timeout.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)

	batch := make([]row, 0, r.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			return r.shutdown(batch)
		case <-r.done:
			return r.shutdown(batch)
		case item := <-r.input:
			batch = append(batch, item)
			if len(batch) >= r.cfg.BatchSize {
				batch = r.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = r.flush(ctx, batch)
		}
	}
}

func (r *Recorder) shutdown(batch []row) error {
	r.Close()
	for {
		select {
		case item := <-r.input:
			batch = append(batch, item)
			continue
		default:
		}
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	r.flush(ctx, batch)
	r.logger.Info("recorder stopped", "inserted", r.Stats().Inserts)
	return nil
}

// flush writes the batch and returns the reset slice. A failed batch is
// dropped after logging; the stream must keep moving.
func (r *Recorder) flush(ctx context.Context, batch []row) []row {
	if len(batch) == 0 {
		return batch
	}

	start := time.Now()
	if err := r.sink.writeBatch(ctx, batch); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.mu.Lock()
		r.stats.Errors++
		r.mu.Unlock()
		return batch[:0]
	}

	r.mu.Lock()
	r.stats.Inserts += int64(len(batch))
	r.stats.Flushes++
	r.mu.Unlock()

	r.logger.Debug("flushed messages",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return batch[:0]
}

// pgxSink batch-inserts rows into channel_messages.
type pgxSink struct {
	db *pgxpool.Pool
}

func (s *pgxSink) writeBatch(ctx context.Context, rows []row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO channel_messages (received_at, topic, event, ref, join_ref, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, r.ReceivedAt, r.Topic, r.Event, r.Ref, r.JoinRef, r.Payload)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
