// Package relay defines the shared types for request/response correlation.
package relay

import "time"

// CorrelationRecord links an in-flight crawl request to its delivery target.
// Records are created by the submission path and read-and-deleted by the
// result path; they are never mutated in place.
type CorrelationRecord struct {
	// Fingerprint is the SHA-256 content hash of identity|query|target.
	Fingerprint string `json:"fingerprint"`
	// Identity names the client the result should be delivered to. The live
	// connection is re-resolved from it at delivery time; connections
	// themselves are process-local and never serialized.
	Identity string `json:"identity"`
	// Query and Target echo the original request back to the client
	// alongside the result.
	Query  string `json:"query"`
	Target string `json:"target"`
	// CreatedAt is the UTC submission time.
	CreatedAt time.Time `json:"created_at"`
}

// Receipt is returned to the submitting client once a request is accepted.
type Receipt struct {
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
}

// RequestBody is the broker message body for a crawl request.
type RequestBody struct {
	Query  string `json:"query"`
	Target string `json:"target"`
}

// ResultBody is the broker message body for a crawl result.
type ResultBody struct {
	ResultURI string `json:"result_uri,omitempty"`
	Excerpt   string `json:"excerpt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DeliveryPayload is what the client receives on its live connection: the
// original request context plus the worker's result.
type DeliveryPayload struct {
	Fingerprint string `json:"fingerprint"`
	Query       string `json:"query"`
	Target      string `json:"target"`
	Status      string `json:"status"`
	ResultURI   string `json:"result_uri,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Broker message header keys. Correlation is header-driven so consumers can
// act without parsing bodies; a message missing a required header is dropped,
// never guessed at.
const (
	HeaderIdentity    = "identity"
	HeaderFingerprint = "fingerprint"
	HeaderStatus      = "status"
	HeaderTimestamp   = "ts"
)

// Result status header values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
