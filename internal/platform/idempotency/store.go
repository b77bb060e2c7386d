package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Status is the lifecycle state of a stored key.
type Status string

const (
	// DefaultTTL is how long a key and its stored response are kept before the sweeper may
	// remove them.
	DefaultTTL = 24 * time.Hour

	// StatusPending marks a key whose handler is still running; no response is stored yet.
	StatusPending Status = "pending"
	// StatusCompleted marks a key whose response is stored and can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of reserving a key.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request is still processing the key.
	ReservationStatePending
)

// Reservation is the result of Reserve. Record is populated for completed and pending keys.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state for one key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is what gets stored for later replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses. Keys passed in are already scoped to the caller.
type Store interface {
	// Reserve claims key for the request identified by fingerprint. An expired record may be
	// taken over; a live record with another fingerprint yields ErrFingerprintMismatch.
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	// SaveResponse stores resp against a reserved key and marks it completed.
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	// Release drops a pending reservation so the client may retry with the same key.
	Release(ctx context.Context, key, fingerprint string) error
	// CleanupExpired deletes at most limit expired records and reports how many were removed.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// storageKey hashes the scoped key so arbitrary client input never reaches a primary key as-is.
func storageKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

// sha256Hex returns the lowercase hex digest of data.
func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sanitizeHeaders copies header for storage, dropping hop-by-hop and per-response headers that
// must not be replayed.
func sanitizeHeaders(header http.Header) map[string][]string {
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if hopByHop(canonical) {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func hopByHop(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "proxy-authenticate", "proxy-authorization", "te", "trailers", "transfer-encoding", "upgrade", "set-cookie":
		return true
	default:
		return false
	}
}

// cloneHeader rebuilds a replayable header set from stored values.
func cloneHeader(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = append([]string(nil), vals...)
	}
	return header
}
