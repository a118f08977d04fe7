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

// DefaultTTL is how long completed responses remain replayable.
const DefaultTTL = 24 * time.Hour

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve a key.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

// Reservation is the result of Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state of one key.
type Record struct {
	Key             string              `json:"key" firestore:"key"`
	Fingerprint     string              `json:"fingerprint" firestore:"fingerprint"`
	Status          Status              `json:"status" firestore:"status"`
	ResponseStatus  int                 `json:"response_status,omitempty" firestore:"response_status"`
	ResponseHeaders map[string][]string `json:"response_headers,omitempty" firestore:"response_headers"`
	ResponseBody    []byte              `json:"response_body,omitempty" firestore:"response_body"`
	CreatedAt       time.Time           `json:"created_at" firestore:"created_at"`
	ExpiresAt       time.Time           `json:"expires_at" firestore:"expires_at"`
}

// Response is the HTTP response stored for replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

func newPendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// resolve decides what an existing record means for a new reservation attempt.
func resolve(existing Record, fingerprint string, now time.Time) (Reservation, bool, error) {
	if !existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt) {
		return Reservation{}, false, nil
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, true, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: existing}, true, nil
	}
	return Reservation{State: ReservationStatePending, Record: existing}, true, nil
}

func completeRecord(rec Record, resp Response, now time.Time, ttl time.Duration) Record {
	rec.Status = StatusCompleted
	rec.ResponseStatus = resp.Status
	rec.ResponseHeaders = sanitizeHeaders(resp.Headers)
	rec.ResponseBody = append([]byte(nil), resp.Body...)
	rec.ExpiresAt = now.Add(ttl)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	return rec
}

func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeHeaders(header http.Header) map[string][]string {
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "transfer-encoding", "x-cloud-trace-context":
			continue
		}
		filtered[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return filtered
}
