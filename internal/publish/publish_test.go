package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/wifi-transformer/internal/measurement"
)

type fakeDeliverer struct {
	mu      sync.Mutex
	batches [][][]byte
}

func (f *fakeDeliverer) Deliver(ctx context.Context, batch [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func testMeasurement(bssid string) measurement.Measurement {
	return measurement.Measurement{BSSID: bssid, ConnectionStatus: measurement.StatusScan}
}

func TestPublish_EmitsOnCountLimit(t *testing.T) {
	d := &fakeDeliverer{}
	p := New(d, Limits{MaxBatchCount: 2, MaxBatchBytes: 1 << 20, MaxRecordBytes: 1 << 10, MaxInFlightBatches: 4}, zap.NewNop())

	p.Publish(testMeasurement("aa:bb:cc:dd:ee:01"))
	p.Publish(testMeasurement("aa:bb:cc:dd:ee:02"))
	p.Wait()

	if got := d.count(); got != 1 {
		t.Fatalf("expected 1 emitted batch, got %d", got)
	}
	if status := p.Status(); status.Count != 0 {
		t.Errorf("expected empty batch after emission, got count %d", status.Count)
	}
}

func TestPublish_FlushEmitsPartialBatch(t *testing.T) {
	d := &fakeDeliverer{}
	p := New(d, Limits{MaxBatchCount: 10, MaxBatchBytes: 1 << 20, MaxRecordBytes: 1 << 10, MaxInFlightBatches: 4}, zap.NewNop())

	p.Publish(testMeasurement("aa:bb:cc:dd:ee:01"))
	p.Flush()
	p.Wait()

	if got := d.count(); got != 1 {
		t.Fatalf("expected 1 emitted batch after flush, got %d", got)
	}
}

func TestPublish_FlushOnEmptyBatchIsNoop(t *testing.T) {
	d := &fakeDeliverer{}
	p := New(d, Limits{MaxBatchCount: 10, MaxBatchBytes: 1 << 20, MaxRecordBytes: 1 << 10, MaxInFlightBatches: 4}, zap.NewNop())

	p.Flush()
	p.Wait()

	if got := d.count(); got != 0 {
		t.Fatalf("expected no batches emitted for empty flush, got %d", got)
	}
}

func TestPublish_DropsOversizeRecord(t *testing.T) {
	d := &fakeDeliverer{}
	p := New(d, Limits{MaxBatchCount: 10, MaxBatchBytes: 1 << 20, MaxRecordBytes: 1, MaxInFlightBatches: 4}, zap.NewNop())

	p.Publish(testMeasurement("aa:bb:cc:dd:ee:01"))
	p.Flush()
	p.Wait()

	if got := d.count(); got != 0 {
		t.Fatalf("expected oversize record to be dropped before batching, got %d batches", got)
	}
}

func TestPublish_RespectsInFlightCeiling(t *testing.T) {
	blockCh := make(chan struct{})
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)

	d := &blockingDeliverer{blockCh: blockCh, release: release, started: &started}
	p := New(d, Limits{MaxBatchCount: 1, MaxBatchBytes: 1 << 20, MaxRecordBytes: 1 << 10, MaxInFlightBatches: 1}, zap.NewNop())

	p.Publish(testMeasurement("aa:bb:cc:dd:ee:01"))
	<-blockCh

	done := make(chan struct{})
	go func() {
		p.Publish(testMeasurement("aa:bb:cc:dd:ee:02"))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected second publish to block while in-flight ceiling is reached")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
	p.Wait()
}

type blockingDeliverer struct {
	blockCh chan struct{}
	release chan struct{}
	started *sync.WaitGroup
	once    sync.Once
}

func (b *blockingDeliverer) Deliver(ctx context.Context, batch [][]byte) {
	b.once.Do(func() { close(b.blockCh) })
	<-b.release
}
