// Package ratelimit decides whether a user may run another AI feature call.
//
// A request is checked against a list of buckets at once. Each bucket is a
// sliding window counter scoped to the user or to the organization. Either
// every bucket admits the request and all of them count it, or the first
// exhausted bucket is reported and nothing is counted.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Scope is what a bucket counts against.
type Scope string

const (
	ScopeUser         Scope = "user"
	ScopeOrganization Scope = "org"
)

// Bucket is one time-windowed ceiling. A Limit <= 0 means unlimited.
type Bucket struct {
	Name   string
	Scope  Scope
	Limit  int
	Window time.Duration
}

// ExceededBucket describes the bucket that denied a request.
type ExceededBucket struct {
	Name              string
	Limit             int
	Window            time.Duration
	RetryAfterSeconds int
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed  bool
	Exceeded *ExceededBucket
}

// Guard checks and counts requests.
type Guard interface {
	CheckRateLimits(ctx context.Context, userID, orgID string, buckets []Bucket) (Decision, error)
}

// NoopGuard allows everything.
type NoopGuard struct{}

func (NoopGuard) CheckRateLimits(ctx context.Context, userID, orgID string, buckets []Bucket) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func subject(b Bucket, userID, orgID string) string {
	if b.Scope == ScopeOrganization {
		return orgID
	}
	return userID
}

func bucketKey(b Bucket, userID, orgID string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", b.Name, b.Scope, subject(b, userID, orgID))
}

func exceeded(b Bucket, retryAfter time.Duration) Decision {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return Decision{Exceeded: &ExceededBucket{
		Name:              b.Name,
		Limit:             b.Limit,
		Window:            b.Window,
		RetryAfterSeconds: secs,
	}}
}

// limited drops unlimited buckets.
func limited(buckets []Bucket) []Bucket {
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		if b.Limit > 0 && b.Window > 0 {
			out = append(out, b)
		}
	}
	return out
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
