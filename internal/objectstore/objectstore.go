// Package objectstore fetches notified objects from the backing
// object store, the "fetch" half of decoding a notification.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Getter is the narrow S3 surface the Client needs, satisfied by
// *s3.Client in production and a fake in tests.
type Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Outcome classifies a fetch failure for Pipeline's retriable/drop
// mapping.
type Outcome int

const (
	// OutcomeRetriable covers network errors and 5xx responses.
	OutcomeRetriable Outcome = iota
	// OutcomeDrop covers 404 and access-denied responses: the object
	// is permanently gone or unreachable by this principal.
	OutcomeDrop
)

// Error wraps a fetch failure with its classification.
type Error struct {
	Outcome Outcome
	Cause   error
}

func (e *Error) Error() string { return fmt.Sprintf("objectstore: %v", e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Client fetches a single object's bytes given bucket and key.
type Client struct {
	s3 Getter
}

// New builds a Client backed by s3Client.
func New(s3Client Getter) *Client {
	return &Client{s3: s3Client}
}

// Get fetches the object at bucket/key and returns its raw bytes.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &Error{Outcome: classify(err), Cause: err}
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Outcome: OutcomeRetriable, Cause: fmt.Errorf("reading object body: %w", err)}
	}
	return body, nil
}

// classify maps an S3 SDK error to a retry Outcome: 404/access-denied
// drop the message, everything else (network errors, 5xx) is
// retriable.
func classify(err error) Outcome {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "AccessDenied":
			return OutcomeDrop
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound, http.StatusForbidden:
			return OutcomeDrop
		}
		if respErr.HTTPStatusCode() >= 500 {
			return OutcomeRetriable
		}
	}
	return OutcomeRetriable
}
