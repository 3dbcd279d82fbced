package models

import (
	"strings"
	"time"
)

type Identity struct {
	AccountID           string `json:"account_id"`
	SigningPublicKey    []byte `json:"signing_public_key"`
	EncryptionPublicKey []byte `json:"encryption_public_key"`
}

type Profile struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarSeed  string    `json:"avatar_seed,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

const (
	SessionStateLoggedOut = "logged_out"
	SessionStateLoggedIn  = "logged_in"
	SessionStateExpired   = "expired"
)

type SessionInfo struct {
	State      string    `json:"state"`
	AccountID  string    `json:"account_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	LoggedInAt time.Time `json:"logged_in_at,omitempty"`
}

const (
	QueueStateIdle    = "idle"
	QueueStateSyncing = "syncing"
	QueueStateError   = "error"
	QueueStateOffline = "offline"
)

type QueueStatus struct {
	State        string    `json:"state"`
	PendingCount int       `json:"pending_count"`
	LastError    string    `json:"last_error,omitempty"`
	LastFlushAt  time.Time `json:"last_flush_at,omitempty"`
}

type VaultStatus struct {
	Hash      string    `json:"hash,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Dirty     bool      `json:"dirty"`
}

type ShareSummary struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func NormalizeSessionState(raw string) string {
	switch strings.TrimSpace(raw) {
	case SessionStateLoggedIn:
		return SessionStateLoggedIn
	case SessionStateExpired:
		return SessionStateExpired
	default:
		return SessionStateLoggedOut
	}
}

func NormalizeQueueState(raw string) string {
	switch strings.TrimSpace(raw) {
	case QueueStateSyncing:
		return QueueStateSyncing
	case QueueStateError:
		return QueueStateError
	case QueueStateOffline:
		return QueueStateOffline
	default:
		return QueueStateIdle
	}
}
