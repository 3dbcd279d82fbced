// Package app wires identity, vault, sharing and the sync queue into
// one service consumed by the RPC surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yurug/maplume-sub000/internal/backend"
	"github.com/yurug/maplume-sub000/internal/config"
	"github.com/yurug/maplume-sub000/internal/identity"
	"github.com/yurug/maplume-sub000/internal/securestore"
	"github.com/yurug/maplume-sub000/internal/syncqueue"
	"github.com/yurug/maplume-sub000/pkg/models"
)

// Secret store keys. Renaming any of these orphans data persisted by
// earlier builds.
const (
	secretKeyUsername    = "maplume.username"
	secretKeyBundle      = "maplume.keybundle"
	secretKeyProfile     = "maplume.profile"
	secretKeyQueueSecret = "maplume.queue_secret"
)

const queueSnapshotFile = "queue.json"

var (
	ErrNoIdentity     = errors.New("no identity configured")
	ErrIdentityExists = errors.New("identity already configured")
	ErrNotLoggedIn    = errors.New("not logged in")
)

// Service owns all daemon state: the derived key bundle, the session,
// the sync queue and the event stream.
type Service struct {
	cfg     config.Config
	logger  *slog.Logger
	client  *backend.Client
	secrets securestore.SecretStore
	metrics *Metrics
	hub     *NotificationHub

	mu      sync.Mutex
	bundle  *identity.KeyBundle
	ident   models.Identity
	profile models.Profile
	session models.SessionInfo
	queue   *syncqueue.Queue
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithBackendClient injects a preconfigured client, used by tests to
// point at a fake backend.
func WithBackendClient(client *backend.Client) Option {
	return func(s *Service) { s.client = client }
}

func WithSecretStore(store securestore.SecretStore) Option {
	return func(s *Service) { s.secrets = store }
}

// WithRegisterer selects where sync metrics are registered. Defaults
// to a private registry so repeated construction never panics on
// duplicate collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) { s.metrics = NewMetrics(reg) }
}

func New(cfg config.Config, opts ...Option) *Service {
	s := &Service{
		cfg: cfg,
		hub: NewNotificationHub(256),
		session: models.SessionInfo{
			State: models.SessionStateLoggedOut,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = DefaultLogger(cfg.LogLevel)
	}
	if s.secrets == nil {
		s.secrets = securestore.NewMemStore()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if s.client == nil {
		s.client = backend.New(cfg.BackendURL,
			backend.WithLogger(s.logger),
			backend.WithProbeTimeout(cfg.ProbeTimeout),
			backend.WithTimeout(cfg.RequestTimeout),
			backend.WithRateLimit(cfg.BackendRateRPS, cfg.BackendRateBurst),
		)
	}
	s.client.SetSessionExpiredHook(s.onSessionExpired)
	return s
}

// Init restores any persisted identity and starts the sync queue.
// Safe to call once; the daemon invokes it before serving RPC.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.restoreIdentity(); err != nil {
		return err
	}

	store, err := s.openQueueStore()
	if err != nil {
		return fmt.Errorf("open queue snapshot: %w", err)
	}
	queue := syncqueue.New(store, s.handleOperation, s.client,
		syncqueue.Config{
			RetryThreshold: s.cfg.RetryThreshold,
			ProbeInterval:  s.cfg.ProbeInterval,
		},
		syncqueue.WithLogger(s.logger),
		syncqueue.WithMetrics(s.metrics),
		syncqueue.WithStatusListener(s.onQueueStatus),
		syncqueue.WithFatalListener(s.onFatalOperation),
	)

	s.mu.Lock()
	s.queue = queue
	s.mu.Unlock()
	queue.Start(ctx)

	s.logger.Info("service initialized",
		"has_identity", s.HasIdentity(),
		"pending_ops", queue.Status().PendingCount)
	return nil
}

// Cleanup stops the queue worker and wipes in-memory key material.
// Persisted state (identity, queue snapshot) survives for the next
// Init; Logout is the destructive path.
func (s *Service) Cleanup() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	bundle := s.bundle
	s.bundle = nil
	s.mu.Unlock()

	if queue != nil {
		queue.Close()
	}
	bundle.Zero()
	s.client.ClearTokens()
}

func (s *Service) restoreIdentity() error {
	username, ok, err := s.secrets.Get(secretKeyUsername)
	if err != nil {
		return fmt.Errorf("read stored username: %w", err)
	}
	if !ok {
		return nil
	}
	encoded, ok, err := s.secrets.Get(secretKeyBundle)
	if err != nil {
		return fmt.Errorf("read stored key bundle: %w", err)
	}
	if !ok {
		s.logger.Warn("stored username without key bundle, ignoring")
		return nil
	}
	bundle, err := identity.DecodeKeyBundle(encoded)
	if err != nil {
		return fmt.Errorf("decode stored key bundle: %w", err)
	}
	accountID, err := identity.AccountID(bundle.Identity.PublicKey)
	if err != nil {
		return fmt.Errorf("derive account id: %w", err)
	}

	profile := models.Profile{Username: username}
	if raw, ok, err := s.secrets.Get(secretKeyProfile); err == nil && ok {
		if p, perr := decodeProfile(raw); perr == nil {
			profile = p
		}
	}

	s.mu.Lock()
	s.bundle = bundle
	s.ident = models.Identity{
		AccountID:           accountID,
		SigningPublicKey:    bundle.Identity.PublicKey,
		EncryptionPublicKey: bundle.Encryption.PublicKey,
	}
	s.profile = profile
	s.mu.Unlock()

	s.logger.Info("identity restored", "account_id", accountID)
	return nil
}

// openQueueStore builds the durable (or, without a data dir, purely
// in-memory) operation store. The snapshot is encrypted with a random
// secret held in the secret store, so it is unreadable without the
// store passphrase but available before login.
func (s *Service) openQueueStore() (*syncqueue.Store, error) {
	if s.cfg.DataDir == "" {
		return syncqueue.NewStore(), nil
	}
	secret, ok, err := s.secrets.Get(secretKeyQueueSecret)
	if err != nil {
		return nil, err
	}
	if !ok {
		secret, err = GeneratePrefixedID("qs")
		if err != nil {
			return nil, err
		}
		if err := s.secrets.Set(secretKeyQueueSecret, secret); err != nil {
			return nil, err
		}
	}
	return syncqueue.NewEncryptedPersistentStore(
		filepath.Join(s.cfg.DataDir, queueSnapshotFile), secret)
}

func (s *Service) HasIdentity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundle != nil
}

// Identity returns the public identity, if one is configured.
func (s *Service) Identity() (models.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ident, s.bundle != nil
}

func (s *Service) Profile() models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Service) Session() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) QueueStatus() models.QueueStatus {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return models.QueueStatus{State: models.QueueStateIdle}
	}
	return queue.Status()
}

// Subscribe attaches to the daemon event stream. Events published
// after fromSeq are replayed first.
func (s *Service) Subscribe(fromSeq int64) ([]NotificationEvent, <-chan NotificationEvent, func()) {
	return s.hub.Subscribe(fromSeq)
}

// Flush drains the queue synchronously. Exposed for tests and for the
// RPC surface's explicit sync trigger.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue != nil {
		queue.Flush(ctx)
	}
}

// keys returns a private copy of the key bundle; callers must Zero it.
func (s *Service) keys() (*identity.KeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bundle == nil {
		return nil, ErrNoIdentity
	}
	return s.bundle.Clone(), nil
}

func (s *Service) activeQueue() (*syncqueue.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return nil, errors.New("service not initialized")
	}
	return s.queue, nil
}

func (s *Service) onQueueStatus(status models.QueueStatus) {
	s.hub.Publish("queue.status", status)
}

type syncErrorEvent struct {
	OpID    string `json:"op_id"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Service) onFatalOperation(op syncqueue.Operation, err error) {
	s.hub.Publish("sync.error", syncErrorEvent{
		OpID:    op.ID,
		Type:    op.Type,
		Message: err.Error(),
	})
}

func (s *Service) onSessionExpired() {
	s.mu.Lock()
	s.session.State = models.SessionStateExpired
	session := s.session
	s.mu.Unlock()
	s.hub.Publish("session.state", session)
}
