// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package crossref

import "errors"

// Lookup errors. Returned errors wrap exactly one of these; match with errors.Is.
var (
	// ErrTimeout means the service did not answer within the per-call timeout.
	ErrTimeout = errors.New("lookup timed out")

	// ErrRateLimited means the daily ceiling is spent or the service kept
	// refusing with HTTP 429. The batch must stop.
	ErrRateLimited = errors.New("lookup rate limited")

	// ErrServiceError means the service answered with an error status.
	ErrServiceError = errors.New("lookup service error")

	// ErrMalformedResponse means a success response could not be parsed.
	// It is never retried.
	ErrMalformedResponse = errors.New("malformed lookup response")
)
