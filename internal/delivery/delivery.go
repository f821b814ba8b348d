// Package delivery sends accumulated batches to the downstream
// delivery stream, classifies per-record and whole-batch failures,
// and retries with exponential backoff up to a configured attempt
// ceiling.
package delivery

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"go.uber.org/zap"

	"github.com/route-beacon/wifi-transformer/internal/metrics"
)

// PutRecordser is the narrow Kinesis surface the Client needs,
// satisfied by *kinesis.Client in production and a fake in tests.
type PutRecordser interface {
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

// DeadLetterSink receives records that exhausted all retry attempts.
// The default implementation only logs.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, records [][]byte, reason string)
}

// Config carries the retry/backoff parameters.
type Config struct {
	StreamName  string
	MaxAttempts int
	BaseBackoff time.Duration // default 100ms
}

// Client implements Deliverer by sending batches to a Kinesis stream
// via PutRecords, walking per-record partial failures, and retrying
// failed records up to Config.MaxAttempts with exponential backoff
// (base 100ms, factor 2, jitter +/-20%) before handing survivors to
// the dead-letter sink.
type Client struct {
	kinesis    PutRecordser
	cfg        Config
	classifier *Classifier
	deadLetter DeadLetterSink
	logger     *zap.Logger
}

// New builds a delivery Client.
func New(client PutRecordser, cfg Config, deadLetter DeadLetterSink, logger *zap.Logger) *Client {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	return &Client{kinesis: client, cfg: cfg, classifier: &Classifier{}, deadLetter: deadLetter, logger: logger}
}

// Deliver sends batch to the delivery stream, retrying only the
// records the stream reports as failed, up to Config.MaxAttempts.
// Longer backoff is applied after BUFFER_FULL/RATE_LIMIT
// classifications than after NETWORK_ISSUE. GENERIC_FAILURE is capped
// at a single retry regardless of MaxAttempts, per spec: anything that
// doesn't classify as one of the named transient causes drops to the
// dead-letter sink after one more try, not the full attempt ceiling.
func (c *Client) Deliver(ctx context.Context, batch [][]byte) {
	pending := batch
	for attempt := 1; attempt <= c.cfg.MaxAttempts && len(pending) > 0; attempt++ {
		failed, class := c.putOnce(ctx, pending)
		if len(failed) == 0 {
			metrics.DeliveredRecordsTotal.Add(float64(len(pending)))
			return
		}
		if attempt == c.cfg.MaxAttempts || (class == ClassGenericFailure && attempt >= 2) {
			pending = failed
			break
		}
		metrics.DeliveryRetriesTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn("delivery attempt failed, retrying",
			zap.Int("attempt", attempt), zap.Int("failed", len(failed)), zap.String("class", string(class)))

		backoff := backoffForClass(c.cfg.BaseBackoff, attempt, class)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			pending = failed
			attempt = c.cfg.MaxAttempts
		}
		pending = failed
	}

	if len(pending) > 0 {
		metrics.DeadLetteredRecordsTotal.Add(float64(len(pending)))
		c.deadLetter.DeadLetter(ctx, pending, "max_attempts_exhausted")
	}
}

// putOnce issues a single PutRecords call and returns the subset of
// records the stream reported as failed, plus the classification of
// the first failure (for backoff shaping). A whole-call transport
// error is treated as every record failing, classified from the call
// error itself.
func (c *Client) putOnce(ctx context.Context, records [][]byte) ([][]byte, Class) {
	entries := make([]types.PutRecordsRequestEntry, len(records))
	for i, r := range records {
		entries[i] = types.PutRecordsRequestEntry{
			Data:         r,
			PartitionKey: aws.String(partitionKey(i)),
		}
	}

	out, err := c.kinesis.PutRecords(ctx, &kinesis.PutRecordsInput{
		StreamName: aws.String(c.cfg.StreamName),
		Records:    entries,
	})
	if err != nil {
		class := c.classifier.Classify("", err)
		return records, class
	}

	var failed [][]byte
	var class Class
	for i, res := range out.Records {
		if res.ErrorCode == nil {
			continue
		}
		code := aws.ToString(res.ErrorCode)
		msg := aws.ToString(res.ErrorMessage)
		recordClass := c.classifier.Classify(code, errString(msg))
		if class == "" {
			class = recordClass
		}
		failed = append(failed, records[i])
	}
	return failed, class
}

// Classifier exposes the client's failure counters for metrics.
func (c *Client) Classifier() *Classifier { return c.classifier }

func partitionKey(i int) string {
	const alphabet = "0123456789abcdef"
	return alphabet[i%len(alphabet):i%len(alphabet)+1] + "-partition"
}

func backoffForClass(base time.Duration, attempt int, class Class) time.Duration {
	mult := 1.0
	if class == ClassBufferFull || class == ClassRateLimit {
		mult = 3.0
	}
	d := time.Duration(float64(base) * mult * math.Pow(2, float64(attempt-1)))
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // +/-20%
	return time.Duration(float64(d) * jitter)
}

type errString string

func (e errString) Error() string { return string(e) }

// LoggingDeadLetterSink logs dropped records at error level. It is
// the default DeadLetterSink; production deployments wire in a real
// sink (e.g. a second Kinesis stream or S3 bucket) behind the same
// interface, out of scope for this spec.
type LoggingDeadLetterSink struct {
	Logger *zap.Logger
}

func (s *LoggingDeadLetterSink) DeadLetter(ctx context.Context, records [][]byte, reason string) {
	s.Logger.Error("records dead-lettered", zap.Int("count", len(records)), zap.String("reason", reason))
}
