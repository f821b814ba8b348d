// Package ingest implements the notification-driven ingest loop: long
// polling the work queue, dispatching each received message to a
// bounded worker pool, and parsing the message envelope into the
// notifications that worker processes.
package ingest

import "encoding/json"

// Notification references one object in the object store.
type Notification struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// Outcome is the terminal result of processing one notification,
// driving the ingest loop's ack/nack decision. Defined here, rather
// than in the pipeline package that produces it, so Loop can depend on
// it without importing pipeline.
type Outcome int

const (
	// OutcomeOK: every stage succeeded (individual record drops do not
	// change this). Ack the message.
	OutcomeOK Outcome = iota
	// OutcomeRetriable: a transient dependency error occurred. Leave
	// the message un-acked so the queue redelivers.
	OutcomeRetriable
	// OutcomeDrop: the payload is permanently bad. Ack the message
	// (there is nothing to retry).
	OutcomeDrop
)

// s3ObjectEnvelope matches the "Records": [...] shape produced by
// object-store event notifications.
type s3ObjectEnvelope struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
				ETag string `json:"eTag"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// detailEnvelope matches the single-object "detail" shape.
type detailEnvelope struct {
	Detail struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
			ETag string `json:"etag"`
		} `json:"object"`
	} `json:"detail"`
}

// ParseNotifications decodes a queue message body into zero or more
// Notifications. Recognizes the "Records" list envelope and the
// single-object "detail" envelope. Any other shape returns ok=false, a
// non-retriable drop signal.
func ParseNotifications(body []byte) (notifications []Notification, ok bool) {
	var s3env s3ObjectEnvelope
	if err := json.Unmarshal(body, &s3env); err == nil && len(s3env.Records) > 0 {
		out := make([]Notification, 0, len(s3env.Records))
		for _, rec := range s3env.Records {
			if rec.S3.Bucket.Name == "" || rec.S3.Object.Key == "" {
				continue
			}
			out = append(out, Notification{
				Bucket: rec.S3.Bucket.Name,
				Key:    rec.S3.Object.Key,
				Size:   rec.S3.Object.Size,
				ETag:   rec.S3.Object.ETag,
			})
		}
		if len(out) > 0 {
			return out, true
		}
		return nil, false
	}

	var detail detailEnvelope
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail.Bucket.Name != "" && detail.Detail.Object.Key != "" {
		return []Notification{{
			Bucket: detail.Detail.Bucket.Name,
			Key:    detail.Detail.Object.Key,
			Size:   detail.Detail.Object.Size,
			ETag:   detail.Detail.Object.ETag,
		}}, true
	}

	return nil, false
}
