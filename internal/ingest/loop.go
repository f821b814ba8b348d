package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/route-beacon/wifi-transformer/internal/metrics"
)

// Receiver is the narrow SQS surface Loop needs to long-poll for
// messages.
type Receiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
}

// Deleter is the narrow SQS surface Loop needs to ack a message.
type Deleter interface {
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Processor runs one notification end to end. Satisfied by
// *pipeline.Pipeline in production.
type Processor interface {
	Process(ctx context.Context, n Notification) Outcome
}

// Flusher is the subset of publish.Publisher's lifecycle Loop needs
// during graceful shutdown.
type Flusher interface {
	Flush()
	Wait()
}

// Config carries the queue and worker-pool tunables.
type Config struct {
	QueueURL            string
	PollWaitSeconds     int32
	BatchSize           int32
	Concurrency         int
	ShutdownGracePeriod time.Duration
}

// Loop long-polls QueueURL and dispatches each received message to a
// bounded worker pool.
type Loop struct {
	receiver  Receiver
	deleter   Deleter
	processor Processor
	flusher   Flusher
	cfg       Config
	logger    *zap.Logger

	sem     chan struct{}
	started atomic.Bool
}

// Ready reports whether Run has begun polling. Backs the HTTP
// front door's /readyz check.
func (l *Loop) Ready() bool { return l.started.Load() }

// New builds a Loop.
func New(receiver Receiver, deleter Deleter, processor Processor, flusher Flusher, cfg Config, logger *zap.Logger) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Loop{
		receiver:  receiver,
		deleter:   deleter,
		processor: processor,
		flusher:   flusher,
		cfg:       cfg,
		logger:    logger,
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// Run polls until ctx is cancelled, then waits up to
// Config.ShutdownGracePeriod for in-flight workers to finish before
// returning.
func (l *Loop) Run(ctx context.Context) {
	var wg sync.WaitGroup
	l.started.Store(true)

	for {
		select {
		case <-ctx.Done():
			l.waitForShutdown(&wg)
			return
		default:
		}

		out, err := l.receiver.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(l.cfg.QueueURL),
			MaxNumberOfMessages: l.cfg.BatchSize,
			WaitTimeSeconds:     l.cfg.PollWaitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				l.waitForShutdown(&wg)
				return
			}
			l.logger.Error("queue receive failed", zap.Error(err))
			continue
		}

		for _, msg := range out.Messages {
			msg := msg
			l.sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-l.sem }()
				l.handle(ctx, msg)
			}()
		}
	}
}

// handle dispatches one queue message through the processor and acks
// or leaves it un-acked depending on outcome. Panics are recovered and
// logged at error level; the message is left un-acked.
func (l *Loop) handle(ctx context.Context, msg types.Message) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic processing queue message", zap.Any("recover", r))
		}
	}()

	notifications, ok := ParseNotifications([]byte(aws.ToString(msg.Body)))
	if !ok {
		l.logger.Warn("dropping message: unrecognized envelope shape")
		metrics.PermanentPayloadErrorsTotal.WithLabelValues("envelope").Inc()
		l.ack(ctx, msg)
		return
	}

	outcome := OutcomeOK
	for _, n := range notifications {
		switch o := l.processor.Process(ctx, n); o {
		case OutcomeRetriable:
			outcome = OutcomeRetriable
		case OutcomeDrop:
			if outcome == OutcomeOK {
				outcome = OutcomeDrop
			}
		}
	}

	switch outcome {
	case OutcomeOK, OutcomeDrop:
		l.ack(ctx, msg)
	case OutcomeRetriable:
		// Leave un-acked; visibility timeout expiry causes redelivery.
	}
}

func (l *Loop) ack(ctx context.Context, msg types.Message) {
	ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := l.deleter.DeleteMessage(ackCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(l.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		l.logger.Error("failed to delete acked message", zap.Error(err))
	}
}

func (l *Loop) waitForShutdown(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("all in-flight workers finished")
	case <-time.After(l.cfg.ShutdownGracePeriod):
		l.logger.Warn("shutdown grace period elapsed with workers still in flight")
	}

	l.flusher.Flush()
	l.flusher.Wait()
}

// NewBatchID returns a fresh UUIDv7 string, used as a worker's
// processing_batch_id.
func NewBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
