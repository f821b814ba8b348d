package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

const recordsBody = `{"Records": [{"s3": {"bucket": {"name": "b"}, "object": {"key": "k1"}}}]}`

type fakeReceiver struct {
	mu       sync.Mutex
	messages [][]types.Message
	idx      int
}

func (f *fakeReceiver) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.messages) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	batch := f.messages[f.idx]
	f.idx++
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

type fakeDeleter struct {
	deleted atomic.Int32
}

func (f *fakeDeleter) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted.Add(1)
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeProcessor struct {
	outcome Outcome
	calls   atomic.Int32
}

func (f *fakeProcessor) Process(ctx context.Context, n Notification) Outcome {
	f.calls.Add(1)
	return f.outcome
}

type fakeFlusher struct {
	flushed atomic.Int32
}

func (f *fakeFlusher) Flush() { f.flushed.Add(1) }
func (f *fakeFlusher) Wait()  {}

func TestLoop_AcksOnSuccess(t *testing.T) {
	receiver := &fakeReceiver{messages: [][]types.Message{
		{{Body: aws.String(recordsBody), ReceiptHandle: aws.String("rh-1")}},
	}}
	deleter := &fakeDeleter{}
	processor := &fakeProcessor{outcome: OutcomeOK}
	flusher := &fakeFlusher{}

	loop := New(receiver, deleter, processor, flusher, Config{
		QueueURL: "queue", PollWaitSeconds: 1, BatchSize: 1, Concurrency: 2, ShutdownGracePeriod: time.Second,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	if deleter.deleted.Load() != 1 {
		t.Errorf("expected message to be acked, deleted count = %d", deleter.deleted.Load())
	}
	if processor.calls.Load() != 1 {
		t.Errorf("expected processor called once, got %d", processor.calls.Load())
	}
}

func TestLoop_DoesNotAckOnRetriable(t *testing.T) {
	receiver := &fakeReceiver{messages: [][]types.Message{
		{{Body: aws.String(recordsBody), ReceiptHandle: aws.String("rh-1")}},
	}}
	deleter := &fakeDeleter{}
	processor := &fakeProcessor{outcome: OutcomeRetriable}
	flusher := &fakeFlusher{}

	loop := New(receiver, deleter, processor, flusher, Config{
		QueueURL: "queue", PollWaitSeconds: 1, BatchSize: 1, Concurrency: 2, ShutdownGracePeriod: time.Second,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	if deleter.deleted.Load() != 0 {
		t.Errorf("expected message left un-acked, deleted count = %d", deleter.deleted.Load())
	}
}

func TestLoop_ReadyBecomesTrueOnRun(t *testing.T) {
	receiver := &fakeReceiver{}
	loop := New(receiver, &fakeDeleter{}, &fakeProcessor{}, &fakeFlusher{}, Config{
		QueueURL: "queue", PollWaitSeconds: 1, BatchSize: 1, Concurrency: 1, ShutdownGracePeriod: time.Second,
	}, zap.NewNop())

	if loop.Ready() {
		t.Error("expected Ready() false before Run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	if !loop.Ready() {
		t.Error("expected Ready() true after Run starts")
	}
}

func TestLoop_DropsUnrecognizedEnvelope(t *testing.T) {
	receiver := &fakeReceiver{messages: [][]types.Message{
		{{Body: aws.String(`not an envelope`), ReceiptHandle: aws.String("rh-1")}},
	}}
	deleter := &fakeDeleter{}
	processor := &fakeProcessor{outcome: OutcomeOK}

	loop := New(receiver, deleter, processor, &fakeFlusher{}, Config{
		QueueURL: "queue", PollWaitSeconds: 1, BatchSize: 1, Concurrency: 1, ShutdownGracePeriod: time.Second,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	if processor.calls.Load() != 0 {
		t.Errorf("expected processor not called for unrecognized envelope, got %d calls", processor.calls.Load())
	}
	if deleter.deleted.Load() != 1 {
		t.Errorf("expected unrecognized message to be acked (dropped), deleted count = %d", deleter.deleted.Load())
	}
}

func TestNewBatchID_ReturnsUnique(t *testing.T) {
	a := NewBatchID()
	b := NewBatchID()
	if a == b {
		t.Error("expected distinct batch ids")
	}
	if a == "" {
		t.Error("expected non-empty batch id")
	}
}
