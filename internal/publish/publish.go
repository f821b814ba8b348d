// Package publish implements the size-aware batch accumulator that
// packs serialized Measurement records into count- and byte-bounded
// batches and hands full batches to a Deliverer.
package publish

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/route-beacon/wifi-transformer/internal/measurement"
	"github.com/route-beacon/wifi-transformer/internal/metrics"
	"go.uber.org/zap"
)

// Deliverer is the narrow interface the Publisher needs from the
// downstream delivery stream client. Implemented by *delivery.Client
// in production and a fake in tests.
type Deliverer interface {
	Deliver(ctx context.Context, batch [][]byte)
}

// Limits carries the hard caps a Publisher enforces.
type Limits struct {
	MaxBatchCount      int
	MaxBatchBytes      int
	MaxRecordBytes     int
	MaxInFlightBatches int
}

// Status is a consistent snapshot of the currently-accumulating
// batch.
type Status struct {
	Count int
	Bytes int
}

// Publisher accumulates serialized records into a batch under a
// single mutual-exclusion region and emits full batches asynchronously
// to a Deliverer. No record is ever split across batches: the emit
// helper is private and is only called inside the locked region.
type Publisher struct {
	mu     sync.Mutex
	limits Limits
	logger *zap.Logger

	deliverer Deliverer
	inFlight  chan struct{} // buffered semaphore, size MaxInFlightBatches

	batch []([]byte)
	bytes int

	wg sync.WaitGroup
}

// New builds a Publisher bound to deliverer, applying limits.
func New(deliverer Deliverer, limits Limits, logger *zap.Logger) *Publisher {
	return &Publisher{
		limits:    limits,
		logger:    logger,
		deliverer: deliverer,
		inFlight:  make(chan struct{}, limits.MaxInFlightBatches),
		batch:     make([][]byte, 0, limits.MaxBatchCount),
	}
}

// Publish serializes m and appends it to the current batch, emitting
// the current batch first if the append would exceed either cap.
// Serialization failures and oversize records are dropped with a log
// line; they never fail the caller.
func (p *Publisher) Publish(m measurement.Measurement) {
	raw, err := json.Marshal(m)
	if err != nil {
		p.logger.Warn("dropping record: serialization failed", zap.Error(err), zap.String("bssid", m.BSSID))
		metrics.RecordsDroppedTotal.WithLabelValues("serialization").Inc()
		return
	}
	if len(raw) > p.limits.MaxRecordBytes {
		p.logger.Error("dropping record: exceeds max record size",
			zap.Int("size", len(raw)), zap.Int("max", p.limits.MaxRecordBytes), zap.String("bssid", m.BSSID))
		metrics.RecordsDroppedTotal.WithLabelValues("oversize").Inc()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.batch)+1 > p.limits.MaxBatchCount || p.bytes+len(raw) > p.limits.MaxBatchBytes {
		p.emitLocked()
	}

	p.batch = append(p.batch, raw)
	p.bytes += len(raw)
	metrics.RecordsEmittedTotal.WithLabelValues(string(m.ConnectionStatus)).Inc()
	metrics.PublisherBatchCount.Set(float64(len(p.batch)))
	metrics.PublisherBatchBytes.Set(float64(p.bytes))

	if len(p.batch) >= p.limits.MaxBatchCount || p.bytes >= p.limits.MaxBatchBytes {
		p.emitLocked()
	}
}

// Flush emits the current batch if non-empty. It returns once
// emission has been scheduled, not once it has completed.
func (p *Publisher) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.batch) > 0 {
		p.emitLocked()
	}
}

// Status returns a consistent snapshot of the accumulating batch.
func (p *Publisher) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Count: len(p.batch), Bytes: p.bytes}
}

// Wait blocks until every scheduled async delivery has returned. Used
// by shutdown to bound the grace period.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// emitLocked swaps out the current batch for a fresh empty one and
// schedules an asynchronous delivery call. Callers must hold p.mu. It
// is called from Publish (before and after the append) and from
// Flush, each time with p.mu held.
func (p *Publisher) emitLocked() {
	if len(p.batch) == 0 {
		return
	}
	outgoing := p.batch
	p.batch = make([][]byte, 0, p.limits.MaxBatchCount)
	p.bytes = 0
	metrics.PublisherBatchCount.Set(0)
	metrics.PublisherBatchBytes.Set(0)
	metrics.BatchesEmittedTotal.Inc()

	// Backpressure: block the caller (still holding the lock) once
	// MaxInFlightBatches async deliveries are outstanding. This is the
	// only explicit backpressure point in the pipeline.
	p.inFlight <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.inFlight }()
		p.deliverer.Deliver(context.Background(), outgoing)
	}()
}
