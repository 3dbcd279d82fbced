package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/yurug/maplume-sub000/internal/contracts"
	"github.com/yurug/maplume-sub000/internal/crypto"
	"github.com/yurug/maplume-sub000/pkg/models"
)

type Challenge struct {
	Value     string
	ExpiresAt time.Time
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Profile      models.Profile
}

// VaultRecord is the envelope the backend stores per account: an
// opaque blob plus the client-computed content hash.
type VaultRecord struct {
	Blob      string    `json:"blob"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShareRecord is one inbox entry waiting for the recipient.
type ShareRecord struct {
	ID                 string               `json:"id"`
	Sender             string               `json:"sender"`
	EphemeralPublicKey []byte               `json:"ephemeral_public_key"`
	Blob               crypto.EncryptedBlob `json:"blob"`
	CreatedAt          time.Time            `json:"created_at"`
}

type ShareReceipt struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type challengeRequest struct {
	Username string `json:"username"`
}

type challengeResponse struct {
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
}

type loginRequest struct {
	Username  string `json:"username"`
	Challenge string `json:"challenge"`
	Signature []byte `json:"signature"`
}

type loginResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	Profile      models.Profile `json:"profile"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

type putVaultRequest struct {
	Blob string `json:"blob"`
	Hash string `json:"hash"`
}

type shareCreateRequest struct {
	Recipient          string               `json:"recipient"`
	EphemeralPublicKey []byte               `json:"ephemeral_public_key"`
	Blob               crypto.EncryptedBlob `json:"blob"`
}

type inboxResponse struct {
	Shares []ShareRecord `json:"shares"`
}

// RequestChallenge asks the backend for a fresh single-use login
// challenge.
func (c *Client) RequestChallenge(ctx context.Context, username string) (Challenge, error) {
	var resp challengeResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/challenge", challengeRequest{Username: username}, &resp, false)
	if err != nil {
		return Challenge{}, err
	}
	if resp.Challenge == "" {
		return Challenge{}, contracts.WrapCategorizedError(contracts.ErrorCategoryAPI,
			errors.New("empty challenge"))
	}
	return Challenge{Value: resp.Challenge, ExpiresAt: resp.ExpiresAt}, nil
}

// Login exchanges a signed challenge for a token pair. It does not
// install the tokens; the auth flow owns that decision.
func (c *Client) Login(ctx context.Context, username, challenge string, signature []byte) (LoginResult, error) {
	req := loginRequest{Username: username, Challenge: challenge, Signature: signature}
	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", req, &resp, false); err != nil {
		return LoginResult{}, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return LoginResult{}, contracts.WrapCategorizedError(contracts.ErrorCategoryAPI,
			errors.New("login response missing tokens"))
	}
	return LoginResult{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Profile:      resp.Profile,
	}, nil
}

// GetVault fetches the stored vault. A backend that has never seen a
// vault for this account reports ok=false, not an error.
func (c *Client) GetVault(ctx context.Context) (VaultRecord, bool, error) {
	var rec VaultRecord
	err := c.doJSON(ctx, http.MethodGet, "/api/vault", nil, &rec, true)
	if errors.Is(err, ErrNotFound) {
		return VaultRecord{}, false, nil
	}
	if err != nil {
		return VaultRecord{}, false, err
	}
	return rec, true, nil
}

// PutVault replaces the stored vault. Last write wins; the backend
// does not merge.
func (c *Client) PutVault(ctx context.Context, blob, hash string) (VaultRecord, error) {
	var rec VaultRecord
	err := c.doJSON(ctx, http.MethodPut, "/api/vault", putVaultRequest{Blob: blob, Hash: hash}, &rec, true)
	if err != nil {
		return VaultRecord{}, err
	}
	rec.Blob = blob
	return rec, nil
}

func (c *Client) CreateShare(ctx context.Context, recipient string, env crypto.SharedEnvelope) (ShareReceipt, error) {
	req := shareCreateRequest{
		Recipient:          recipient,
		EphemeralPublicKey: env.EphemeralPublicKey,
		Blob:               env.Blob,
	}
	var receipt ShareReceipt
	if err := c.doJSON(ctx, http.MethodPost, "/api/shares", req, &receipt, true); err != nil {
		return ShareReceipt{}, err
	}
	return receipt, nil
}

func (c *Client) ListInbox(ctx context.Context) ([]ShareRecord, error) {
	var resp inboxResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/shares/inbox", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Shares, nil
}

func (c *Client) DeleteShare(ctx context.Context, id string) error {
	if id == "" {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, errors.New("empty share id"))
	}
	return c.doJSON(ctx, http.MethodDelete, "/api/shares/"+url.PathEscape(id), nil, nil, true)
}

// Probe checks reachability with a short deadline. Used by the sync
// queue to decide between Offline and a real flush attempt.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	status, _, err := c.roundTrip(ctx, http.MethodGet, "/api/health", nil, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork,
			fmt.Errorf("%w: health status %d", ErrUnavailable, status))
	}
	return nil
}
