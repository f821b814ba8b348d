package delivery

import (
	"strings"
	"sync/atomic"
)

// Class is the failure classification used to decide retry/backoff/drop
// behavior.
type Class string

const (
	ClassBufferFull     Class = "BUFFER_FULL"
	ClassRateLimit      Class = "RATE_LIMIT"
	ClassNetworkIssue   Class = "NETWORK_ISSUE"
	ClassGenericFailure Class = "GENERIC_FAILURE"
)

var keywordsByClass = []struct {
	class    Class
	keywords []string
}{
	{ClassBufferFull, []string{"service unavailable", "provisionedthroughputexceeded", "capacity exceeded", "internalfailure"}},
	{ClassRateLimit, []string{"throttl", "rate exceeded", "429", "limitexceeded"}},
	{ClassNetworkIssue, []string{"connection refused", "unknown host", "no such host", "socket timeout", "i/o timeout", "connection reset"}},
}

// Classifier maps an error (and optional error code) to a Class,
// maintaining an atomic counter per class. Resolution order is
// BUFFER_FULL -> RATE_LIMIT -> NETWORK_ISSUE -> GENERIC_FAILURE. This
// implementation always walks the full cause chain before falling back
// to GENERIC_FAILURE, rather than short-circuiting on the first
// unmatched error in the chain.
type Classifier struct {
	counts [4]int64
}

// Classify inspects code (may be empty) and err (may be nil) and
// returns the resolved Class, incrementing that class's counter.
func (c *Classifier) Classify(code string, err error) Class {
	haystacks := []string{strings.ToLower(code)}
	for e := err; e != nil; e = unwrap(e) {
		haystacks = append(haystacks, strings.ToLower(e.Error()))
	}

	for i, entry := range keywordsByClass {
		for _, h := range haystacks {
			if h == "" {
				continue
			}
			for _, kw := range entry.keywords {
				if strings.Contains(h, kw) {
					atomic.AddInt64(&c.counts[i], 1)
					return entry.class
				}
			}
		}
	}
	atomic.AddInt64(&c.counts[3], 1)
	return ClassGenericFailure
}

// Counts returns a snapshot of per-class totals.
func (c *Classifier) Counts() map[Class]int64 {
	return map[Class]int64{
		ClassBufferFull:     atomic.LoadInt64(&c.counts[0]),
		ClassRateLimit:      atomic.LoadInt64(&c.counts[1]),
		ClassNetworkIssue:   atomic.LoadInt64(&c.counts[2]),
		ClassGenericFailure: atomic.LoadInt64(&c.counts[3]),
	}
}

type causer interface {
	Unwrap() error
}

func unwrap(err error) error {
	if c, ok := err.(causer); ok {
		return c.Unwrap()
	}
	return nil
}
