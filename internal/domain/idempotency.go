package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "PENDING"
	IdempotencyCompleted IdempotencyStatus = "COMPLETED"
	IdempotencyFailed    IdempotencyStatus = "FAILED"
)

// IdempotencyRecord deduplicates retried mutating requests. A record is
// created PENDING before any external call and flips to COMPLETED or
// FAILED once the attempt resolves. Expired records are purged, never
// reused.
type IdempotencyRecord struct {
	Key         string            `json:"key"`
	UserID      string            `json:"user_id"`
	Operation   string            `json:"operation"`
	RequestHash string            `json:"request_hash"`
	Status      IdempotencyStatus `json:"status"`
	Response    []byte            `json:"response,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// DeriveIdempotencyKey hashes the user, operation and semantic payload so
// retried identical requests collide. Payload fields are serialized in
// sorted key order; callers must exclude volatile fields (timestamps,
// client-minted nonces) before calling.
func DeriveIdempotencyKey(userID, operation string, payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", userID, operation)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, payload[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashRequest fingerprints an arbitrary request body so key reuse with a
// different payload can be detected and rejected.
func HashRequest(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
