// Package syncqueue holds mutations that must reach the backend in
// order, across restarts and offline stretches. Payloads arrive
// pre-encrypted; the queue never inspects them.
package syncqueue

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

const (
	OpTypeVaultPush   = "vault.push"
	OpTypeSharePush   = "share.push"
	OpTypeShareRevoke = "share.revoke"
)

// Operation is one queued mutation. RetryCount only ever moves for
// transient failures; fatal failures remove the operation instead.
type Operation struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Resource   string          `json:"resource"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
}

// NewOperation builds an operation with a fresh ID and creation time.
func NewOperation(opType, resource string, payload any) (Operation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, err
	}
	id, err := generateOpID()
	if err != nil {
		return Operation{}, err
	}
	return Operation{
		ID:        id,
		Type:      opType,
		Resource:  resource,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func generateOpID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "op_" + hex.EncodeToString(buf), nil
}
