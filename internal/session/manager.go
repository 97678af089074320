package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/florianilch/kokomemo/internal/apiclient"
	"github.com/florianilch/kokomemo/internal/credstore"
)

// API paths owned by the session lifecycle.
const (
	InfoPath   = "/user/info"
	LogoutPath = "/user/login/logout"
	loginPath  = "/user/login/"
)

// teardownTimeout bounds clearing the store when a session ends.
const teardownTimeout = 5 * time.Second

var (
	// ErrAlreadyAuthenticated is returned by Login when a session is active.
	ErrAlreadyAuthenticated = errors.New("already authenticated")

	// errSessionEnded rejects a renewal result that arrives after the session was torn down.
	errSessionEnded = errors.New("session ended while renewing")
)

// Manager owns the session state and keeps it consistent with the credential store.
//
// Every transition updates the store and the in-memory state under one lock,
// so observers never see Authenticated without stored credentials or
// Anonymous with credentials left behind.
type Manager struct {
	store  credstore.Store
	client *apiclient.Client

	bootstrapOnce sync.Once
	// opMu serialises login and logout against each other.
	opMu sync.Mutex

	mu          sync.Mutex
	state       State
	subscribers map[int]chan State
	nextSubID   int
}

// NewManager creates a Manager and the API client it drives. Options are
// passed through to apiclient.New; the Manager installs its own hooks.
func NewManager(store credstore.Store, opts ...apiclient.Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}

	m := &Manager{
		store:       store,
		state:       State{Status: StatusUnknown},
		subscribers: make(map[int]chan State),
	}

	opts = append(slices.Clone(opts), apiclient.WithHooks(apiclient.Hooks{
		Renewed: m.persistRenewed,
		Expired: m.expire,
	}))
	client, err := apiclient.New(store, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating API client: %w", err)
	}
	m.client = client

	return m, nil
}

// Client returns the request dispatcher bound to this session.
func (m *Manager) Client() *apiclient.Client {
	return m.client
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel that receives the current state immediately and
// every state after it. A slow reader only sees the latest state. cancel
// closes the channel.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	ch <- m.state
	m.mu.Unlock()

	cancel := sync.OnceFunc(func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		close(ch)
		m.mu.Unlock()
	})
	return ch, cancel
}

// Bootstrap determines the initial state from stored credentials. Only the
// first call does any work; later calls return the current state.
//
// Without stored credentials the session becomes Anonymous with no network
// call. Otherwise the credentials are validated against /user/info and the
// session becomes Authenticated, or Anonymous with the store cleared.
func (m *Manager) Bootstrap(ctx context.Context) State {
	m.bootstrapOnce.Do(func() { m.bootstrap(ctx) })
	return m.State()
}

func (m *Manager) bootstrap(ctx context.Context) {
	_, err := m.store.Load(ctx)
	if errors.Is(err, credstore.ErrNotFound) {
		slog.DebugContext(ctx, "no stored credentials")
		m.endSession(ctx)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to read stored credentials", "error", err)
		m.endSession(ctx)
		return
	}

	identity, err := m.fetchIdentity(ctx)
	if err != nil {
		slog.WarnContext(ctx, "stored credentials rejected", "error", err)
		m.endSession(ctx)
		return
	}

	if err := m.authenticate(ctx, identity); err != nil {
		slog.WarnContext(ctx, "session ended during bootstrap", "error", err)
	}
}

// Login exchanges an identity-provider assertion for credentials and
// establishes the session. On failure the session stays Anonymous.
func (m *Manager) Login(ctx context.Context, service, assertion string) (Identity, error) {
	if service == "" || assertion == "" {
		return Identity{}, fmt.Errorf("service and assertion are required")
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.Bootstrap(ctx).Authenticated() {
		return Identity{}, ErrAlreadyAuthenticated
	}

	resp, err := m.client.SendUnauthenticated(ctx, http.MethodPost, loginPath+url.PathEscape(service),
		apiclient.TokenRequest{Token: assertion})
	if err != nil {
		return Identity{}, fmt.Errorf("logging in with %s: %w", service, err)
	}
	pair, err := apiclient.DecodePair(resp)
	if err != nil {
		return Identity{}, fmt.Errorf("logging in with %s: %w", service, err)
	}

	// The identity call below reads the pair from the store
	if err := m.store.Save(ctx, pair); err != nil {
		return Identity{}, fmt.Errorf("saving credentials: %w", err)
	}

	identity, err := m.fetchIdentity(ctx)
	if err != nil {
		m.endSession(ctx)
		return Identity{}, err
	}
	if err := m.authenticate(ctx, identity); err != nil {
		return Identity{}, err
	}

	slog.InfoContext(ctx, "logged in", "service", service, "user_id", identity.ID)
	return identity, nil
}

// Logout invalidates the session server-side and always ends it locally.
// A server-side failure is still returned to the caller.
func (m *Manager) Logout(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if _, err := m.store.Load(ctx); errors.Is(err, credstore.ErrNotFound) {
		m.endSession(ctx)
		return nil
	}

	_, err := m.client.Send(ctx, http.MethodGet, LogoutPath, nil)
	m.endSession(ctx)

	if err != nil && !errors.Is(err, apiclient.ErrSessionExpired) {
		return fmt.Errorf("logging out: %w", err)
	}
	slog.InfoContext(ctx, "logged out")
	return nil
}

func (m *Manager) fetchIdentity(ctx context.Context) (Identity, error) {
	resp, err := m.client.Send(ctx, http.MethodGet, InfoPath, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("fetching identity: %w", err)
	}

	var identity Identity
	if err := resp.Decode(&identity); err != nil {
		return Identity{}, fmt.Errorf("fetching identity: %w", err)
	}
	return identity, nil
}

// authenticate moves to Authenticated if credentials are still stored. A
// renewal failure between validation and this point has already cleared them.
func (m *Manager) authenticate(ctx context.Context, identity Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Load(ctx); err != nil {
		return fmt.Errorf("%w: %w", errSessionEnded, err)
	}
	m.setState(ctx, State{Status: StatusAuthenticated, Identity: &identity})
	return nil
}

// endSession clears the store and moves to Anonymous. The clear outlives
// ctx so a cancelled caller or an expired renewal cannot leave credentials behind.
func (m *Manager) endSession(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := m.store.Clear(clearCtx); err != nil {
		slog.ErrorContext(ctx, "failed to clear credentials", "error", err)
	}
	m.setState(ctx, State{Status: StatusAnonymous})
}

// expire is the renewal-failure hook.
func (m *Manager) expire(ctx context.Context, cause error) {
	slog.InfoContext(ctx, "session expired", "error", cause)
	m.endSession(ctx)
}

// persistRenewed is the renewal-success hook. A logout that raced the
// renewal wins: the new pair is dropped instead of resurrecting the session.
func (m *Manager) persistRenewed(ctx context.Context, pair credstore.Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Load(ctx); err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return errSessionEnded
		}
		return err
	}
	return m.store.Save(ctx, pair)
}

// setState applies a transition and notifies subscribers. Callers hold m.mu.
func (m *Manager) setState(ctx context.Context, next State) {
	prev := m.state
	if prev.Status == StatusAnonymous && next.Status == StatusAnonymous {
		return
	}
	if !canTransition(prev.Status, next.Status) {
		slog.WarnContext(ctx, "ignoring illegal session transition", "from", prev, "to", next)
		return
	}

	m.state = next
	slog.DebugContext(ctx, "session state changed", "from", prev, "to", next)

	// Subscribers are only written to under m.mu, so drain-then-send never blocks
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}
