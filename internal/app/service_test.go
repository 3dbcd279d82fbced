package app

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yurug/maplume-sub000/internal/backend"
	"github.com/yurug/maplume-sub000/internal/config"
	"github.com/yurug/maplume-sub000/internal/crypto"
	"github.com/yurug/maplume-sub000/internal/securestore"
	"github.com/yurug/maplume-sub000/pkg/models"
)

// fakeBackend is an in-memory stand-in for the sync backend: real
// signature verification, bearer tokens, per-account vaults and share
// inboxes, and a switch that simulates the service being unreachable.
type fakeBackend struct {
	mu         sync.Mutex
	down       bool
	keys       map[string]ed25519.PublicKey
	challenges map[string]string
	access     map[string]string
	refresh    map[string]string
	vaults     map[string]backend.VaultRecord
	inbox      map[string][]backend.ShareRecord
	nextID     int
	srv        *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	f := &fakeBackend{
		keys:       make(map[string]ed25519.PublicKey),
		challenges: make(map[string]string),
		access:     make(map[string]string),
		refresh:    make(map[string]string),
		vaults:     make(map[string]backend.VaultRecord),
		inbox:      make(map[string][]backend.ShareRecord),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", f.wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("/api/auth/challenge", f.wrap(f.handleChallenge))
	mux.HandleFunc("/api/auth/login", f.wrap(f.handleLogin))
	mux.HandleFunc("/api/auth/refresh", f.wrap(f.handleRefresh))
	mux.HandleFunc("/api/vault", f.wrap(f.authed(func(w http.ResponseWriter, r *http.Request, username string) {
		switch r.Method {
		case http.MethodGet:
			f.handleGetVault(w, r, username)
		case http.MethodPut:
			f.handlePutVault(w, r, username)
		default:
			http.Error(w, `{"message":"method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})))
	mux.HandleFunc("/api/shares", f.wrap(f.authed(f.handleCreateShare)))
	mux.HandleFunc("/api/shares/inbox", f.wrap(f.authed(f.handleInbox)))
	mux.HandleFunc("/api/shares/", f.wrap(f.authed(f.handleDeleteShare)))
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackend) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		down := f.down
		f.mu.Unlock()
		if down {
			http.Error(w, `{"message":"maintenance"}`, http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

type userHandler func(w http.ResponseWriter, r *http.Request, username string)

func (f *fakeBackend) authed(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		f.mu.Lock()
		username, ok := f.access[token]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"message":"bad token"}`, http.StatusUnauthorized)
			return
		}
		next(w, r, username)
	}
}

func (f *fakeBackend) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeBackend) registerKey(username string, pub []byte) {
	f.mu.Lock()
	f.keys[username] = ed25519.PublicKey(append([]byte(nil), pub...))
	f.mu.Unlock()
}

// invalidateSession kills all issued tokens so the next authed request
// 401s and the follow-up refresh is rejected.
func (f *fakeBackend) invalidateSession() {
	f.mu.Lock()
	f.access = make(map[string]string)
	f.refresh = make(map[string]string)
	f.mu.Unlock()
}

func (f *fakeBackend) inboxSize(username string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbox[username])
}

func (f *fakeBackend) vaultHash(username string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vaults[username].Hash
}

func (f *fakeBackend) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[req.Username]; !ok {
		http.Error(w, `{"message":"unknown account"}`, http.StatusNotFound)
		return
	}
	f.nextID++
	challenge := fmt.Sprintf("ch_%d", f.nextID)
	f.challenges[challenge] = req.Username
	_ = json.NewEncoder(w).Encode(map[string]any{
		"challenge":  challenge,
		"expires_at": time.Now().Add(time.Minute).UTC(),
	})
}

func (f *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Challenge string `json:"challenge"`
		Signature []byte `json:"signature"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.challenges[req.Challenge]
	key := f.keys[req.Username]
	if !ok || owner != req.Username || !ed25519.Verify(key, []byte(req.Challenge), req.Signature) {
		http.Error(w, `{"message":"challenge rejected"}`, http.StatusUnauthorized)
		return
	}
	delete(f.challenges, req.Challenge)
	f.nextID++
	access := fmt.Sprintf("Bearer at_%d", f.nextID)
	refresh := fmt.Sprintf("rt_%d", f.nextID)
	f.access[access] = req.Username
	f.refresh[refresh] = req.Username
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access[len("Bearer "):],
		"refresh_token": refresh,
		"profile":       models.Profile{Username: req.Username, DisplayName: "Server Name"},
	})
}

func (f *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	username, ok := f.refresh[req.RefreshToken]
	if !ok {
		http.Error(w, `{"message":"refresh rejected"}`, http.StatusUnauthorized)
		return
	}
	f.nextID++
	access := fmt.Sprintf("Bearer at_%d", f.nextID)
	f.access[access] = username
	_ = json.NewEncoder(w).Encode(map[string]string{
		"access_token": access[len("Bearer "):],
	})
}

func (f *fakeBackend) handleGetVault(w http.ResponseWriter, r *http.Request, username string) {
	f.mu.Lock()
	rec, ok := f.vaults[username]
	f.mu.Unlock()
	if !ok {
		http.Error(w, `{"message":"no vault"}`, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(rec)
}

func (f *fakeBackend) handlePutVault(w http.ResponseWriter, r *http.Request, username string) {
	var req struct {
		Blob string `json:"blob"`
		Hash string `json:"hash"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	rec := backend.VaultRecord{Blob: req.Blob, Hash: req.Hash, UpdatedAt: time.Now().UTC()}
	f.mu.Lock()
	f.vaults[username] = rec
	f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(rec)
}

func (f *fakeBackend) handleCreateShare(w http.ResponseWriter, r *http.Request, username string) {
	var req struct {
		Recipient          string               `json:"recipient"`
		EphemeralPublicKey []byte               `json:"ephemeral_public_key"`
		Blob               crypto.EncryptedBlob `json:"blob"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec := backend.ShareRecord{
		ID:                 fmt.Sprintf("shr_%d", f.nextID),
		Sender:             username,
		EphemeralPublicKey: req.EphemeralPublicKey,
		Blob:               req.Blob,
		CreatedAt:          time.Now().UTC(),
	}
	f.inbox[req.Recipient] = append(f.inbox[req.Recipient], rec)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": rec.ID, "created_at": rec.CreatedAt})
}

func (f *fakeBackend) handleInbox(w http.ResponseWriter, r *http.Request, username string) {
	f.mu.Lock()
	shares := append([]backend.ShareRecord(nil), f.inbox[username]...)
	f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{"shares": shares})
}

func (f *fakeBackend) handleDeleteShare(w http.ResponseWriter, r *http.Request, username string) {
	id := strings.TrimPrefix(r.URL.Path, "/api/shares/")
	f.mu.Lock()
	defer f.mu.Unlock()
	shares := f.inbox[username]
	for i, rec := range shares {
		if rec.ID == id {
			f.inbox[username] = append(shares[:i], shares[i+1:]...)
			w.WriteHeader(http.StatusOK)
			return
		}
	}
	http.Error(w, `{"message":"no such share"}`, http.StatusNotFound)
}

func testConfig(probeInterval time.Duration) config.Config {
	cfg := config.Default()
	cfg.ProbeInterval = probeInterval
	cfg.ProbeTimeout = time.Second
	cfg.LogLevel = "error"
	return cfg
}

func newTestService(t *testing.T, f *fakeBackend, store securestore.SecretStore, probeInterval time.Duration) *Service {
	t.Helper()
	client := backend.New(f.srv.URL, backend.WithProbeTimeout(time.Second))
	svc := New(testConfig(probeInterval),
		WithBackendClient(client),
		WithSecretStore(store),
		WithLogger(DefaultLogger("error")),
	)
	t.Cleanup(svc.Cleanup)
	return svc
}

func loginAs(t *testing.T, svc *Service, f *fakeBackend, username string) models.Identity {
	t.Helper()
	ident, _, err := svc.CreateIdentity(context.Background(), username, "")
	if err != nil {
		t.Fatalf("create identity failed: %v", err)
	}
	f.registerKey(username, ident.SigningPublicKey)
	if _, err := svc.Login(context.Background()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return ident
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateLoginPushPull(t *testing.T) {
	f := newFakeBackend(t)
	svc := newTestService(t, f, securestore.NewMemStore(), time.Hour)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	loginAs(t, svc, f, "alice")

	if got := svc.Session().State; got != models.SessionStateLoggedIn {
		t.Fatalf("unexpected session state: %s", got)
	}

	appData := json.RawMessage(`{"notes":["first","second"]}`)
	status, err := svc.PushVault(context.Background(), appData)
	if err != nil {
		t.Fatalf("push vault failed: %v", err)
	}
	if !status.Dirty || status.Hash == "" {
		t.Fatalf("unexpected push status: %+v", status)
	}
	svc.Flush(context.Background())
	if f.vaultHash("alice") != status.Hash {
		t.Fatalf("backend hash %q does not match pushed %q", f.vaultHash("alice"), status.Hash)
	}

	got, pulled, found, err := svc.PullVault(context.Background())
	if err != nil || !found {
		t.Fatalf("pull vault failed: found=%v err=%v", found, err)
	}
	if string(got) != string(appData) {
		t.Fatalf("vault roundtrip mismatch: %s", got)
	}
	if pulled.Hash != status.Hash {
		t.Fatalf("hash changed over the wire: %q vs %q", pulled.Hash, status.Hash)
	}
}

func TestPullVaultEmptyAccount(t *testing.T) {
	f := newFakeBackend(t)
	svc := newTestService(t, f, securestore.NewMemStore(), time.Hour)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	loginAs(t, svc, f, "alice")

	_, _, found, err := svc.PullVault(context.Background())
	if err != nil {
		t.Fatalf("expected empty vault to be a non-error, got %v", err)
	}
	if found {
		t.Fatal("expected found=false for fresh account")
	}
}

func TestImportRecoversSameAccount(t *testing.T) {
	f := newFakeBackend(t)
	first := newTestService(t, f, securestore.NewMemStore(), time.Hour)
	if err := first.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	ident, mnemonic, err := first.CreateIdentity(context.Background(), "alice", "Alice")
	if err != nil {
		t.Fatalf("create identity failed: %v", err)
	}

	second := newTestService(t, f, securestore.NewMemStore(), time.Hour)
	if err := second.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	recovered, err := second.ImportIdentity(context.Background(), "alice", mnemonic)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if recovered.AccountID != ident.AccountID {
		t.Fatalf("account mismatch: %s vs %s", recovered.AccountID, ident.AccountID)
	}

	// The recovered device can log in with nothing but the mnemonic.
	f.registerKey("alice", ident.SigningPublicKey)
	if _, err := second.Login(context.Background()); err != nil {
		t.Fatalf("login on recovered device failed: %v", err)
	}
}

func TestIdentitySurvivesRestart(t *testing.T) {
	f := newFakeBackend(t)
	secrets := securestore.NewMemStore()

	first := newTestService(t, f, secrets, time.Hour)
	if err := first.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	ident, _, err := first.CreateIdentity(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("create identity failed: %v", err)
	}
	first.Cleanup()

	second := newTestService(t, f, secrets, time.Hour)
	if err := second.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	restored, ok := second.Identity()
	if !ok {
		t.Fatal("expected identity restored after restart")
	}
	if restored.AccountID != ident.AccountID {
		t.Fatalf("account mismatch after restart: %s vs %s", restored.AccountID, ident.AccountID)
	}
	if second.Session().State != models.SessionStateLoggedOut {
		t.Fatal("restart must not resurrect the session")
	}
}

func TestOfflineShareDeliveredAfterReconnect(t *testing.T) {
	f := newFakeBackend(t)

	bob := newTestService(t, f, securestore.NewMemStore(), time.Hour)
	if err := bob.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	bobIdent := loginAs(t, bob, f, "bob")

	alice := newTestService(t, f, securestore.NewMemStore(), 20*time.Millisecond)
	if err := alice.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	loginAs(t, alice, f, "alice")

	// Backend goes away; the edit is queued, not lost.
	f.setDown(true)
	waitUntil(t, 2*time.Second, func() bool {
		return alice.QueueStatus().State == models.QueueStateOffline
	}, "queue to go offline")

	payload := json.RawMessage(`{"note":"while offline"}`)
	if _, err := alice.ShareWith(context.Background(), "bob", bobIdent.EncryptionPublicKey, payload); err != nil {
		t.Fatalf("share while offline failed: %v", err)
	}
	if f.inboxSize("bob") != 0 {
		t.Fatal("share must not reach the backend while offline")
	}
	if got := alice.QueueStatus().PendingCount; got != 1 {
		t.Fatalf("expected 1 queued op, got %d", got)
	}

	// Connectivity returns; the prober flushes without user action.
	f.setDown(false)
	waitUntil(t, 2*time.Second, func() bool {
		return f.inboxSize("bob") == 1 && alice.QueueStatus().PendingCount == 0
	}, "queued share to flush after reconnect")

	opened, err := bob.OpenShares(context.Background())
	if err != nil {
		t.Fatalf("open shares failed: %v", err)
	}
	if len(opened) != 1 || opened[0].Sender != "alice" {
		t.Fatalf("unexpected opened shares: %+v", opened)
	}
	if string(opened[0].Payload) != string(payload) {
		t.Fatalf("share payload mismatch: %s", opened[0].Payload)
	}
	// Opening acknowledged the share.
	if f.inboxSize("bob") != 0 {
		t.Fatal("expected inbox drained after open")
	}
}

func TestShareEventsPublished(t *testing.T) {
	f := newFakeBackend(t)
	bob := newTestService(t, f, securestore.NewMemStore(), time.Hour)
	if err := bob.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	bobIdent := loginAs(t, bob, f, "bob")

	alice := newTestService(t, f, securestore.NewMemStore(), time.Hour)
	if err := alice.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	loginAs(t, alice, f, "alice")

	if _, err := alice.ShareWith(context.Background(), "bob", bobIdent.EncryptionPublicKey, json.RawMessage(`"hi"`)); err != nil {
		t.Fatalf("share failed: %v", err)
	}
	alice.Flush(context.Background())

	replayStart := int64(0)
	if _, err := bob.OpenShares(context.Background()); err != nil {
		t.Fatalf("open shares failed: %v", err)
	}
	replay, _, cancel := bob.Subscribe(replayStart)
	defer cancel()
	var sawShare bool
	for _, ev := range replay {
		if ev.Method == "share.received" {
			sawShare = true
		}
	}
	if !sawShare {
		t.Fatal("expected share.received event in replay")
	}
}

func TestLogoutWipesAccountState(t *testing.T) {
	f := newFakeBackend(t)
	secrets := securestore.NewMemStore()
	svc := newTestService(t, f, secrets, time.Hour)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	loginAs(t, svc, f, "alice")
	if _, err := svc.PushVault(context.Background(), json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	if err := svc.Logout(context.Background()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if svc.HasIdentity() {
		t.Fatal("identity must be gone after logout")
	}
	if svc.Session().State != models.SessionStateLoggedOut {
		t.Fatalf("unexpected session state: %s", svc.Session().State)
	}
	if got := svc.QueueStatus().PendingCount; got != 0 {
		t.Fatalf("queue must be cleared on logout, %d ops left", got)
	}
	if _, ok, _ := secrets.Get(secretKeyBundle); ok {
		t.Fatal("key bundle must be deleted from the secret store")
	}
	// Vault operations now fail until a new identity exists.
	if _, err := svc.PushVault(context.Background(), json.RawMessage(`{}`)); err != ErrNoIdentity {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestSessionExpiryPublishesEvent(t *testing.T) {
	f := newFakeBackend(t)
	svc := newTestService(t, f, securestore.NewMemStore(), time.Hour)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	loginAs(t, svc, f, "alice")

	f.invalidateSession()
	if _, _, _, err := svc.PullVault(context.Background()); err == nil {
		t.Fatal("expected pull to fail with dead session")
	}
	if got := svc.Session().State; got != models.SessionStateExpired {
		t.Fatalf("unexpected session state: %s", got)
	}

	replay, _, cancel := svc.Subscribe(0)
	defer cancel()
	var sawExpired bool
	for _, ev := range replay {
		if ev.Method != "session.state" {
			continue
		}
		if info, ok := ev.Payload.(models.SessionInfo); ok && info.State == models.SessionStateExpired {
			sawExpired = true
		}
	}
	if !sawExpired {
		t.Fatal("expected expired session.state event")
	}
}
