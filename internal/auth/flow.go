// Package auth runs the challenge-response login protocol. Possession
// of the mnemonic-derived signing key is the only credential; no
// password ever reaches the backend.
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yurug/maplume-sub000/internal/backend"
	"github.com/yurug/maplume-sub000/internal/contracts"
)

const (
	StateIdle               = "idle"
	StateChallengeRequested = "challenge_requested"
	StateChallengeSigned    = "challenge_signed"
	StateSessionEstablished = "session_established"
	StateFailed             = "failed"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrFlowState            = errors.New("auth flow out of order")

	// ErrSessionExpired is raised by the transport when a refresh is
	// rejected; re-exported so callers depend on one auth surface.
	ErrSessionExpired = backend.ErrSessionExpired
)

// SignChallenge signs the UTF-8 bytes of the challenge string exactly
// as received. No decoding, no canonicalization.
func SignChallenge(challenge string, signingPriv ed25519.PrivateKey) []byte {
	return ed25519.Sign(signingPriv, []byte(challenge))
}

// Flow is one login attempt. Challenges are single-use and time-boxed,
// so a failed flow is discarded and a fresh one started; there is no
// partial recovery. Not safe for concurrent use.
type Flow struct {
	client    *backend.Client
	logger    *slog.Logger
	state     string
	username  string
	challenge backend.Challenge
	signature []byte
	reason    error
}

func NewFlow(client *backend.Client, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{client: client, logger: logger, state: StateIdle}
}

func (f *Flow) State() string { return f.state }

// Reason reports what failed once the flow is in StateFailed.
func (f *Flow) Reason() error { return f.reason }

// Start requests a challenge for username.
func (f *Flow) Start(ctx context.Context, username string) error {
	if f.state != StateIdle {
		return fmt.Errorf("%w: start in %s", ErrFlowState, f.state)
	}
	challenge, err := f.client.RequestChallenge(ctx, username)
	if err != nil {
		return f.fail(err)
	}
	f.username = username
	f.challenge = challenge
	f.state = StateChallengeRequested
	return nil
}

// Sign signs the pending challenge. An already-expired challenge fails
// locally instead of burning a round trip.
func (f *Flow) Sign(signingPriv ed25519.PrivateKey) error {
	if f.state != StateChallengeRequested {
		return fmt.Errorf("%w: sign in %s", ErrFlowState, f.state)
	}
	if !f.challenge.ExpiresAt.IsZero() && time.Now().After(f.challenge.ExpiresAt) {
		return f.fail(contracts.WrapCategorizedError(contracts.ErrorCategoryAPI,
			fmt.Errorf("%w: challenge expired", ErrAuthenticationFailed)))
	}
	if len(signingPriv) != ed25519.PrivateKeySize {
		return f.fail(fmt.Errorf("%w: bad signing key", ErrAuthenticationFailed))
	}
	f.signature = SignChallenge(f.challenge.Value, signingPriv)
	f.state = StateChallengeSigned
	return nil
}

// Exchange trades the signed challenge for a session and installs the
// tokens on the transport. The exchange is atomic: any failure means
// no session, and the next attempt starts from a fresh challenge.
func (f *Flow) Exchange(ctx context.Context) (backend.LoginResult, error) {
	if f.state != StateChallengeSigned {
		return backend.LoginResult{}, fmt.Errorf("%w: exchange in %s", ErrFlowState, f.state)
	}
	result, err := f.client.Login(ctx, f.username, f.challenge.Value, f.signature)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			err = contracts.WrapCategorizedError(contracts.ErrorCategoryAPI,
				fmt.Errorf("%w: challenge rejected", ErrAuthenticationFailed))
		}
		return backend.LoginResult{}, f.fail(err)
	}
	f.client.SetTokens(backend.Tokens{Access: result.AccessToken, Refresh: result.RefreshToken})
	f.state = StateSessionEstablished
	f.logger.Info("session established", "username", f.username)
	return result, nil
}

func (f *Flow) fail(err error) error {
	f.state = StateFailed
	f.reason = err
	return err
}

// Login runs a complete flow in one call.
func Login(ctx context.Context, client *backend.Client, logger *slog.Logger, username string, signingPriv ed25519.PrivateKey) (backend.LoginResult, error) {
	flow := NewFlow(client, logger)
	if err := flow.Start(ctx, username); err != nil {
		return backend.LoginResult{}, err
	}
	if err := flow.Sign(signingPriv); err != nil {
		return backend.LoginResult{}, err
	}
	return flow.Exchange(ctx)
}
