package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates rate limit exceeded
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrSiteNotConfigured indicates the site configuration is missing
	ErrSiteNotConfigured = errors.New("site configuration missing")

	// ErrIndexNotFound indicates the vector index does not exist
	ErrIndexNotFound = errors.New("index not found")
	// ErrConnectivity indicates the vector store or model provider could not be reached
	ErrConnectivity = errors.New("connection failed")
	// ErrGenerationQuota indicates the model provider rejected the call for quota reasons
	ErrGenerationQuota = errors.New("generation quota exceeded")
	// ErrStoreIndexBuilding indicates a record store index is still being built
	ErrStoreIndexBuilding = errors.New("store index is building")
	// ErrStoreIndex indicates a record store index failure
	ErrStoreIndex = errors.New("store index error")
	// ErrRecordExists indicates a record with the same id was already written
	ErrRecordExists = errors.New("record already exists")
)

// ValidationError is returned for malformed chat requests (HTTP 400)
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// RateLimitError is returned when a request is rejected by a limiter (HTTP 429)
type RateLimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return e.Reason }

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ConfigError is returned when the site cannot serve requests (HTTP 500)
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

func (e *ConfigError) Unwrap() error { return ErrSiteNotConfigured }

// RetrievalError wraps failures raised by the retriever
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string { return "retrieval failed: " + e.Err.Error() }

func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError wraps failures raised by a generation chain.
// StatusCode carries the provider's HTTP status when one is known.
type GenerationError struct {
	Model      string
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation failed (model %s, status %d): %v", e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation failed (model %s): %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// StoreError wraps failures raised by the record store
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }
