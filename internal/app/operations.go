package app

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yurug/maplume-sub000/internal/auth"
	"github.com/yurug/maplume-sub000/internal/crypto"
	"github.com/yurug/maplume-sub000/internal/identity"
	"github.com/yurug/maplume-sub000/internal/syncqueue"
	"github.com/yurug/maplume-sub000/internal/vault"
	"github.com/yurug/maplume-sub000/pkg/models"
)

var ErrUsernameRequired = errors.New("username required")

// GenerateMnemonic produces a recovery phrase without touching any
// persisted state, for preview flows that show the phrase before the
// user commits to an account.
func (s *Service) GenerateMnemonic() (string, error) {
	return identity.GenerateMnemonic()
}

func (s *Service) ValidateMnemonic(mnemonic string) bool {
	return identity.ValidateMnemonic(mnemonic)
}

// CreateIdentity generates a fresh mnemonic, derives the key bundle
// and persists both identity and profile. The mnemonic is returned
// exactly once for the user to record; it is never stored.
func (s *Service) CreateIdentity(ctx context.Context, username, displayName string) (models.Identity, string, error) {
	username = models.NormalizeUsername(username)
	if username == "" {
		return models.Identity{}, "", ErrUsernameRequired
	}
	if s.HasIdentity() {
		return models.Identity{}, "", ErrIdentityExists
	}

	mnemonic, err := identity.GenerateMnemonic()
	if err != nil {
		return models.Identity{}, "", err
	}
	avatarSeed, err := GeneratePrefixedID("av")
	if err != nil {
		return models.Identity{}, "", err
	}
	profile := models.Profile{
		Username:    username,
		DisplayName: displayName,
		AvatarSeed:  avatarSeed,
		CreatedAt:   nowUTC(),
	}
	ident, err := s.installIdentity(mnemonic, profile)
	if err != nil {
		return models.Identity{}, "", err
	}
	s.logger.Info("identity created", "account_id", ident.AccountID, "username", username)
	return ident, mnemonic, nil
}

// ImportIdentity recovers an account from its mnemonic on a fresh
// device. The same phrase always yields the same account ID.
func (s *Service) ImportIdentity(ctx context.Context, username, mnemonic string) (models.Identity, error) {
	username = models.NormalizeUsername(username)
	if username == "" {
		return models.Identity{}, ErrUsernameRequired
	}
	if s.HasIdentity() {
		return models.Identity{}, ErrIdentityExists
	}
	profile := models.Profile{Username: username, CreatedAt: nowUTC()}
	ident, err := s.installIdentity(mnemonic, profile)
	if err != nil {
		return models.Identity{}, err
	}
	s.logger.Info("identity imported", "account_id", ident.AccountID, "username", username)
	return ident, nil
}

func (s *Service) installIdentity(mnemonic string, profile models.Profile) (models.Identity, error) {
	bundle, err := identity.DeriveKeyBundle(mnemonic)
	if err != nil {
		return models.Identity{}, err
	}
	accountID, err := identity.AccountID(bundle.Identity.PublicKey)
	if err != nil {
		bundle.Zero()
		return models.Identity{}, err
	}
	encoded, err := identity.EncodeKeyBundle(bundle)
	if err != nil {
		bundle.Zero()
		return models.Identity{}, err
	}

	if err := s.secrets.Set(secretKeyUsername, profile.Username); err != nil {
		bundle.Zero()
		return models.Identity{}, fmt.Errorf("persist username: %w", err)
	}
	if err := s.secrets.Set(secretKeyBundle, encoded); err != nil {
		bundle.Zero()
		return models.Identity{}, fmt.Errorf("persist key bundle: %w", err)
	}
	if err := s.persistProfile(profile); err != nil {
		bundle.Zero()
		return models.Identity{}, err
	}

	ident := models.Identity{
		AccountID:           accountID,
		SigningPublicKey:    bundle.Identity.PublicKey,
		EncryptionPublicKey: bundle.Encryption.PublicKey,
	}
	s.mu.Lock()
	s.bundle = bundle
	s.ident = ident
	s.profile = profile
	s.mu.Unlock()
	return ident, nil
}

// Login runs the challenge-response flow with the stored identity and
// installs the resulting session.
func (s *Service) Login(ctx context.Context) (models.SessionInfo, error) {
	kb, err := s.keys()
	if err != nil {
		return models.SessionInfo{}, err
	}
	defer kb.Zero()

	s.mu.Lock()
	username := s.profile.Username
	accountID := s.ident.AccountID
	s.mu.Unlock()

	result, err := auth.Login(ctx, s.client, s.logger, username, ed25519.PrivateKey(kb.Identity.PrivateKey))
	if err != nil {
		return models.SessionInfo{}, err
	}

	session := models.SessionInfo{
		State:      models.SessionStateLoggedIn,
		AccountID:  accountID,
		Username:   username,
		LoggedInAt: nowUTC(),
	}
	s.mu.Lock()
	s.session = session
	if result.Profile.DisplayName != "" {
		s.profile.DisplayName = result.Profile.DisplayName
	}
	if result.Profile.AvatarSeed != "" {
		s.profile.AvatarSeed = result.Profile.AvatarSeed
	}
	profile := s.profile
	queue := s.queue
	s.mu.Unlock()

	if err := s.persistProfile(profile); err != nil {
		s.logger.Warn("persist profile failed", "error", err)
	}
	s.hub.Publish("session.state", session)
	if queue != nil {
		queue.Kick()
	}
	return session, nil
}

// Logout drops the session and erases all persisted account state:
// secrets, profile and any queued work.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	queue := s.queue
	bundle := s.bundle
	s.bundle = nil
	s.ident = models.Identity{}
	s.profile = models.Profile{}
	s.session = models.SessionInfo{State: models.SessionStateLoggedOut}
	session := s.session
	s.mu.Unlock()

	if queue != nil {
		if err := queue.Clear(); err != nil {
			s.logger.Error("clear queue on logout failed", "error", err)
		}
	}
	s.client.ClearTokens()
	bundle.Zero()

	for _, key := range []string{secretKeyUsername, secretKeyBundle, secretKeyProfile} {
		if err := s.secrets.Delete(key); err != nil {
			s.logger.Error("delete secret on logout failed", "error", err)
		}
	}

	s.hub.Publish("session.state", session)
	s.logger.Info("logged out")
	return nil
}

// PushVault seals the application state under the local vault key and
// queues the upload. Returns the content hash the backend will store.
func (s *Service) PushVault(ctx context.Context, appData json.RawMessage) (models.VaultStatus, error) {
	kb, err := s.keys()
	if err != nil {
		return models.VaultStatus{}, err
	}
	defer kb.Zero()

	blob, hash, err := vault.Seal(appData, kb.LocalKey)
	if err != nil {
		return models.VaultStatus{}, err
	}
	op, err := syncqueue.NewOperation(syncqueue.OpTypeVaultPush, "vault", vaultPushPayload{
		Blob: blob,
		Hash: hash,
	})
	if err != nil {
		return models.VaultStatus{}, err
	}
	queue, err := s.activeQueue()
	if err != nil {
		return models.VaultStatus{}, err
	}
	if err := queue.Enqueue(op); err != nil {
		return models.VaultStatus{}, err
	}
	return models.VaultStatus{Hash: hash, Dirty: true}, nil
}

// PullVault fetches and unseals the remote vault. found is false when
// the account has no vault yet, which is not an error.
func (s *Service) PullVault(ctx context.Context) (json.RawMessage, models.VaultStatus, bool, error) {
	kb, err := s.keys()
	if err != nil {
		return nil, models.VaultStatus{}, false, err
	}
	defer kb.Zero()
	if !s.client.HasSession() {
		return nil, models.VaultStatus{}, false, ErrNotLoggedIn
	}

	rec, found, err := s.client.GetVault(ctx)
	if err != nil {
		return nil, models.VaultStatus{}, false, err
	}
	if !found {
		return nil, models.VaultStatus{}, false, nil
	}
	var appData json.RawMessage
	if err := vault.Unseal(rec.Blob, kb.LocalKey, &appData); err != nil {
		return nil, models.VaultStatus{}, false, err
	}
	// Hash is recomputed from the decrypted bytes rather than trusted
	// from the record; the backend never sees plaintext to hash.
	status := models.VaultStatus{Hash: vault.Hash(appData), UpdatedAt: rec.UpdatedAt}
	return appData, status, true, nil
}

// ShareWith seals payload for the recipient's X25519 key and queues
// the upload. Works offline; the returned ID is the local operation
// handle, not the server-side share ID.
func (s *Service) ShareWith(ctx context.Context, recipient string, recipientKey []byte, payload json.RawMessage) (string, error) {
	kb, err := s.keys()
	if err != nil {
		return "", err
	}
	defer kb.Zero()

	env, err := crypto.SealFor(payload, recipientKey, kb.Encryption.PrivateKey)
	if err != nil {
		return "", err
	}
	op, err := syncqueue.NewOperation(syncqueue.OpTypeSharePush, recipient, sharePushPayload{
		Recipient: recipient,
		Envelope:  env,
	})
	if err != nil {
		return "", err
	}
	queue, err := s.activeQueue()
	if err != nil {
		return "", err
	}
	if err := queue.Enqueue(op); err != nil {
		return "", err
	}
	s.logger.Info("share queued", "recipient", recipient, "op_id", op.ID)
	return op.ID, nil
}

// OpenedShare is a decrypted inbox entry.
type OpenedShare struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// OpenShares pulls the inbox, decrypts what it can and acknowledges
// each opened share. Entries that fail to decrypt stay in the inbox
// and are skipped.
func (s *Service) OpenShares(ctx context.Context) ([]OpenedShare, error) {
	kb, err := s.keys()
	if err != nil {
		return nil, err
	}
	defer kb.Zero()
	if !s.client.HasSession() {
		return nil, ErrNotLoggedIn
	}

	records, err := s.client.ListInbox(ctx)
	if err != nil {
		return nil, err
	}
	opened := make([]OpenedShare, 0, len(records))
	for _, rec := range records {
		payload, err := crypto.OpenFrom(rec.EphemeralPublicKey, rec.Blob, kb.Encryption.PrivateKey)
		if err != nil {
			s.logger.Warn("undecryptable share left in inbox", "share_id", rec.ID, "error", err)
			continue
		}
		opened = append(opened, OpenedShare{
			ID:        rec.ID,
			Sender:    rec.Sender,
			Payload:   payload,
			CreatedAt: rec.CreatedAt,
		})
		s.hub.Publish("share.received", models.ShareSummary{
			ID:        rec.ID,
			Sender:    rec.Sender,
			CreatedAt: rec.CreatedAt,
		})
		if err := s.client.DeleteShare(ctx, rec.ID); err != nil {
			// Re-delivery on the next pull is tolerated; receivers
			// dedupe by share ID.
			s.logger.Warn("share ack failed", "share_id", rec.ID, "error", err)
		}
	}
	return opened, nil
}

// RevokeShare queues deletion of an outstanding share.
func (s *Service) RevokeShare(ctx context.Context, shareID string) error {
	if !s.HasIdentity() {
		return ErrNoIdentity
	}
	op, err := syncqueue.NewOperation(syncqueue.OpTypeShareRevoke, shareID, shareRevokePayload{ID: shareID})
	if err != nil {
		return err
	}
	queue, err := s.activeQueue()
	if err != nil {
		return err
	}
	return queue.Enqueue(op)
}

func (s *Service) persistProfile(profile models.Profile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	if err := s.secrets.Set(secretKeyProfile, string(raw)); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	return nil
}

func decodeProfile(raw string) (models.Profile, error) {
	var p models.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.Profile{}, err
	}
	return p, nil
}
