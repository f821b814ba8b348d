// Package pipeline wires the object fetch, Decoder, Parser,
// Transformer, and Publisher behind the single "process one
// notification" entrypoint used by the queue-driven ingest loop. The
// synchronous HTTP front door does not go through it: it runs Parser
// -> Transformer -> Publisher itself.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/wifi-transformer/internal/decode"
	"github.com/route-beacon/wifi-transformer/internal/ingest"
	"github.com/route-beacon/wifi-transformer/internal/metrics"
	"github.com/route-beacon/wifi-transformer/internal/objectstore"
	"github.com/route-beacon/wifi-transformer/internal/publish"
	"github.com/route-beacon/wifi-transformer/internal/scandata"
	"github.com/route-beacon/wifi-transformer/internal/transform"
)

// softProcessingBudget is the per-message soft latency cap: exceeding
// it only logs a warning.
const softProcessingBudget = 5 * time.Second

// ObjectFetcher is the narrow object-store surface Pipeline needs.
type ObjectFetcher interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// BatchIDFunc returns a fresh processing-batch id, one per processed
// notification.
type BatchIDFunc func() string

// Pipeline processes one notification end to end. It is safe for
// concurrent use by multiple workers: the only shared mutable state
// is the injected Publisher, which guards itself.
type Pipeline struct {
	objectStore ObjectFetcher
	transformer *transform.Transformer
	publisher   *publish.Publisher
	batchID     BatchIDFunc
	logger      *zap.Logger
}

// New builds a Pipeline from its collaborators.
func New(objectStore ObjectFetcher, transformer *transform.Transformer, publisher *publish.Publisher, batchID BatchIDFunc, logger *zap.Logger) *Pipeline {
	return &Pipeline{objectStore: objectStore, transformer: transformer, publisher: publisher, batchID: batchID, logger: logger}
}

// Process runs notification through fetch -> decode -> parse ->
// transform -> publish, always flushing the publisher before
// returning to bound per-message latency.
func (p *Pipeline) Process(ctx context.Context, n ingest.Notification) ingest.Outcome {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > softProcessingBudget {
			p.logger.Warn("notification processing exceeded soft budget",
				zap.Duration("elapsed", elapsed), zap.String("bucket", n.Bucket), zap.String("key", n.Key))
		}
		metrics.NotificationProcessingDuration.Observe(time.Since(start).Seconds())
		p.publisher.Flush()
	}()

	raw, err := p.objectStore.Get(ctx, n.Bucket, n.Key)
	if err != nil {
		if oerr, ok := err.(*objectstore.Error); ok && oerr.Outcome == objectstore.OutcomeDrop {
			p.logger.Warn("dropping notification: object fetch permanent failure", zap.Error(err), zap.String("key", n.Key))
			metrics.PermanentPayloadErrorsTotal.WithLabelValues("fetch").Inc()
			return ingest.OutcomeDrop
		}
		p.logger.Warn("retriable object fetch failure", zap.Error(err), zap.String("key", n.Key))
		return ingest.OutcomeRetriable
	}

	jsonText, err := decode.Decode(raw)
	if err != nil {
		p.logger.Warn("dropping notification: decode failure", zap.Error(err), zap.String("key", n.Key))
		metrics.PermanentPayloadErrorsTotal.WithLabelValues("decode").Inc()
		return ingest.OutcomeDrop
	}

	sd, err := scandata.Parse(jsonText)
	if err != nil {
		p.logger.Warn("dropping notification: parse failure", zap.Error(err), zap.String("key", n.Key))
		metrics.PermanentPayloadErrorsTotal.WithLabelValues("parse").Inc()
		return ingest.OutcomeDrop
	}

	batchID := p.batchID()
	for _, m := range p.transformer.Transform(sd, batchID) {
		p.publisher.Publish(m)
	}

	return ingest.OutcomeOK
}
