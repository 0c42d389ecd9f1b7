// Package idgen provides ID generation utilities for the application.
// It encapsulates the ID generation implementation, making it easy to change
// the underlying ID generation strategy in the future.
package idgen

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/rs/xid"
)

// NewID generates a new globally unique, sortable identifier.
// Returns a 20-character string using xid format.
// The generated ID is:
// - Globally unique
// - Sortable by creation time
// - URL-safe (base32 encoded)
// - 20 characters long
func NewID() string {
	return xid.New().String()
}

// NewRunID generates a unique ID for a review run.
// Currently an alias for NewID, but can be customized in the future
// (e.g., adding a prefix like "run_" for better identification).
func NewRunID() string {
	return NewID()
}

// NewEventID generates a unique ID for audit events.
// Currently an alias for NewID, but can be customized in the future
// (e.g., adding a prefix like "evt_" for better identification).
func NewEventID() string {
	return NewID()
}

// NewRequestID generates a unique ID for HTTP request tracking.
// Currently an alias for NewID, but can be customized in the future
// (e.g., adding a prefix like "req_" for better identification).
func NewRequestID() string {
	return NewID()
}

// NewDeliveryID generates a unique ID for webhook delivery tracking.
// Currently an alias for NewID, but can be customized in the future
// (e.g., adding a prefix like "dlv_" for better identification).
func NewDeliveryID() string {
	return NewID()
}

// NewSecureSecret generates a cryptographically secure random string of specified length.
// Uses URL-safe base64 encoding. Useful for JWT secrets and other security tokens.
func NewSecureSecret(length int) string {
	// Calculate the number of bytes needed (base64 encoding expands by ~4/3)
	byteLength := (length*3 + 3) / 4
	bytes := make([]byte, byteLength)

	if _, err := rand.Read(bytes); err != nil {
		// Fallback should never happen with crypto/rand, but just in case
		return "please-generate-a-secure-random-secret"
	}

	// Use URL-safe base64 encoding and trim to exact length
	encoded := base64.URLEncoding.EncodeToString(bytes)
	if len(encoded) > length {
		encoded = encoded[:length]
	}
	return encoded
}
