package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"go.uber.org/zap"
)

type fakePutRecordser struct {
	calls     int
	responses []*kinesis.PutRecordsOutput
	err       error
}

func (f *fakePutRecordser) PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.responses[f.calls]
	f.calls++
	return out, nil
}

type fakeDeadLetterSink struct {
	records [][]byte
	reason  string
}

func (f *fakeDeadLetterSink) DeadLetter(ctx context.Context, records [][]byte, reason string) {
	f.records = append(f.records, records...)
	f.reason = reason
}

func successOutput(n int) *kinesis.PutRecordsOutput {
	records := make([]types.PutRecordsResultEntry, n)
	return &kinesis.PutRecordsOutput{Records: records}
}

func partialFailureOutput(total, failCount int) *kinesis.PutRecordsOutput {
	records := make([]types.PutRecordsResultEntry, total)
	for i := 0; i < failCount; i++ {
		records[i] = types.PutRecordsResultEntry{
			ErrorCode:    aws.String("ProvisionedThroughputExceededException"),
			ErrorMessage: aws.String("rate exceeded"),
		}
	}
	return &kinesis.PutRecordsOutput{Records: records}
}

func genericFailureOutput(total, failCount int) *kinesis.PutRecordsOutput {
	records := make([]types.PutRecordsResultEntry, total)
	for i := 0; i < failCount; i++ {
		records[i] = types.PutRecordsResultEntry{
			ErrorCode:    aws.String("InternalError"),
			ErrorMessage: aws.String("an unexpected condition occurred"),
		}
	}
	return &kinesis.PutRecordsOutput{Records: records}
}

func testBatch(n int) [][]byte {
	batch := make([][]byte, n)
	for i := range batch {
		batch[i] = []byte("record")
	}
	return batch
}

func TestDeliver_AllSucceedFirstAttempt(t *testing.T) {
	kin := &fakePutRecordser{responses: []*kinesis.PutRecordsOutput{successOutput(3)}}
	sink := &fakeDeadLetterSink{}
	c := New(kin, Config{StreamName: "stream", MaxAttempts: 3, BaseBackoff: time.Millisecond}, sink, zap.NewNop())

	c.Deliver(context.Background(), testBatch(3))

	if kin.calls != 1 {
		t.Errorf("expected 1 PutRecords call, got %d", kin.calls)
	}
	if len(sink.records) != 0 {
		t.Errorf("expected no dead-lettered records, got %d", len(sink.records))
	}
}

func TestDeliver_RetriesPartialFailureThenSucceeds(t *testing.T) {
	kin := &fakePutRecordser{responses: []*kinesis.PutRecordsOutput{
		partialFailureOutput(3, 1),
		successOutput(1),
	}}
	sink := &fakeDeadLetterSink{}
	c := New(kin, Config{StreamName: "stream", MaxAttempts: 3, BaseBackoff: time.Millisecond}, sink, zap.NewNop())

	c.Deliver(context.Background(), testBatch(3))

	if kin.calls != 2 {
		t.Errorf("expected 2 PutRecords calls, got %d", kin.calls)
	}
	if len(sink.records) != 0 {
		t.Errorf("expected no dead-lettered records after eventual success, got %d", len(sink.records))
	}
}

func TestDeliver_ExhaustsAttemptsAndDeadLetters(t *testing.T) {
	kin := &fakePutRecordser{responses: []*kinesis.PutRecordsOutput{
		partialFailureOutput(2, 2),
		partialFailureOutput(2, 2),
	}}
	sink := &fakeDeadLetterSink{}
	c := New(kin, Config{StreamName: "stream", MaxAttempts: 2, BaseBackoff: time.Millisecond}, sink, zap.NewNop())

	c.Deliver(context.Background(), testBatch(2))

	if len(sink.records) != 2 {
		t.Fatalf("expected 2 dead-lettered records, got %d", len(sink.records))
	}
	if sink.reason != "max_attempts_exhausted" {
		t.Errorf("expected reason max_attempts_exhausted, got %q", sink.reason)
	}
}

func TestDeliver_GenericFailureCapsAtOneRetry(t *testing.T) {
	kin := &fakePutRecordser{responses: []*kinesis.PutRecordsOutput{
		genericFailureOutput(2, 2),
		genericFailureOutput(2, 2),
		genericFailureOutput(2, 2),
	}}
	sink := &fakeDeadLetterSink{}
	c := New(kin, Config{StreamName: "stream", MaxAttempts: 5, BaseBackoff: time.Millisecond}, sink, zap.NewNop())

	c.Deliver(context.Background(), testBatch(2))

	if kin.calls != 2 {
		t.Errorf("expected GENERIC_FAILURE to stop after 1 retry (2 calls), got %d", kin.calls)
	}
	if len(sink.records) != 2 {
		t.Fatalf("expected 2 dead-lettered records, got %d", len(sink.records))
	}
	if sink.reason != "max_attempts_exhausted" {
		t.Errorf("expected reason max_attempts_exhausted, got %q", sink.reason)
	}
}

func TestDeliver_TransportErrorTreatsAllAsFailed(t *testing.T) {
	kin := &fakePutRecordser{err: errors.New("connection refused")}
	sink := &fakeDeadLetterSink{}
	c := New(kin, Config{StreamName: "stream", MaxAttempts: 1, BaseBackoff: time.Millisecond}, sink, zap.NewNop())

	c.Deliver(context.Background(), testBatch(2))

	if len(sink.records) != 2 {
		t.Fatalf("expected all records dead-lettered after transport error, got %d", len(sink.records))
	}
}
