package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rashee1997/orchestrator-sub006/clock"
)

// Store selects credentials per provider. OAuth credentials are preferred
// over static keys because subscription tokens usually carry higher
// throughput; static keys rotate round-robin.
// Safe for concurrent use.
type Store struct {
	clock       clock.Clock
	persistence Persistence
	refresher   Refresher
	buffer      time.Duration
	logger      *slog.Logger

	mu            sync.Mutex
	keys          map[string][]Credential
	cursor        map[string]int
	disabledKeys  map[string]bool
	oauth         map[string]Credential
	oauthDisabled map[string]error
	refreshLocks  map[string]*sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source used for expiry checks.
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) {
		s.clock = c
	}
}

// WithPersistence sets where OAuth credentials are loaded from and saved to.
func WithPersistence(p Persistence) StoreOption {
	return func(s *Store) {
		s.persistence = p
	}
}

// WithRefresher sets the token exchanger.
func WithRefresher(r Refresher) StoreOption {
	return func(s *Store) {
		s.refresher = r
	}
}

// WithRefreshBuffer sets how close to expiry a token is refreshed.
func WithRefreshBuffer(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.buffer = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStaticKeys registers API keys for a provider.
func WithStaticKeys(providerID string, secrets ...string) StoreOption {
	return func(s *Store) {
		for _, secret := range secrets {
			s.addKeyLocked(providerID, secret)
		}
	}
}

// NewStore creates a credential store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		clock:         clock.Real{},
		buffer:        DefaultRefreshBuffer,
		logger:        slog.Default(),
		keys:          make(map[string][]Credential),
		cursor:        make(map[string]int),
		disabledKeys:  make(map[string]bool),
		oauth:         make(map[string]Credential),
		oauthDisabled: make(map[string]error),
		refreshLocks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddStaticKey registers one more API key for providerID.
// Adding a key that is already present is a no-op.
func (s *Store) AddStaticKey(providerID, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addKeyLocked(providerID, secret)
}

func (s *Store) addKeyLocked(providerID, secret string) {
	if secret == "" {
		return
	}
	for _, k := range s.keys[providerID] {
		if k.Secret == secret {
			return
		}
	}
	s.keys[providerID] = append(s.keys[providerID], Credential{
		ID:         fmt.Sprintf("%s-key-%d", providerID, len(s.keys[providerID])+1),
		ProviderID: providerID,
		Method:     MethodStaticKey,
		Secret:     secret,
	})
}

// PutOAuth stores an OAuth credential for its provider and re-enables
// OAuth for that provider.
func (s *Store) PutOAuth(ctx context.Context, cred Credential) error {
	cred.Method = MethodOAuth
	if err := cred.Validate(); err != nil {
		return err
	}
	if cred.ID == "" {
		cred.ID = cred.ProviderID + "-oauth"
	}
	if s.persistence != nil {
		if err := s.persistence.Save(ctx, cred.ProviderID, cred); err != nil {
			return fmt.Errorf("save oauth credential: %w", err)
		}
	}
	s.mu.Lock()
	s.oauth[cred.ProviderID] = cred
	delete(s.oauthDisabled, cred.ProviderID)
	s.mu.Unlock()
	return nil
}

// Providers returns every provider with at least one registered credential
// source, sorted.
func (s *Store) Providers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for p := range s.keys {
		seen[p] = struct{}{}
	}
	for p := range s.oauth {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Acquire returns the preferred usable credential for providerID.
func (s *Store) Acquire(ctx context.Context, providerID string) (Credential, error) {
	cands, err := s.Candidates(ctx, providerID)
	if err != nil {
		return Credential{}, err
	}
	return cands[0], nil
}

// Candidates returns every usable credential for providerID in preference
// order: a valid OAuth credential first, then static keys starting at the
// rotation cursor. Each call advances the cursor.
func (s *Store) Candidates(ctx context.Context, providerID string) ([]Credential, error) {
	var out []Credential

	oauth, oauthErr := s.usableOAuth(ctx, providerID)
	if oauthErr == nil {
		out = append(out, oauth)
	}

	s.mu.Lock()
	keys := s.keys[providerID]
	if n := len(keys); n > 0 {
		start := s.cursor[providerID] % n
		s.cursor[providerID] = (start + 1) % n
		for i := range n {
			k := keys[(start+i)%n]
			if !s.disabledKeys[k.ID] {
				out = append(out, k)
			}
		}
	}
	s.mu.Unlock()

	if len(out) == 0 {
		if oauthErr != nil && !errors.Is(oauthErr, ErrNotFound) {
			return nil, fmt.Errorf("%w for %s: %w", ErrNoCredentials, providerID, oauthErr)
		}
		return nil, fmt.Errorf("%w for %s", ErrNoCredentials, providerID)
	}
	return out, nil
}

// HasCredentials reports whether providerID has any usable credential.
// It may refresh an expiring OAuth token.
func (s *Store) HasCredentials(ctx context.Context, providerID string) bool {
	s.mu.Lock()
	for _, k := range s.keys[providerID] {
		if !s.disabledKeys[k.ID] {
			s.mu.Unlock()
			return true
		}
	}
	s.mu.Unlock()

	_, err := s.usableOAuth(ctx, providerID)
	return err == nil
}

// usableOAuth loads the provider's OAuth credential and refreshes it when
// close to expiry. Returns ErrNotFound when the provider has none.
func (s *Store) usableOAuth(ctx context.Context, providerID string) (Credential, error) {
	s.mu.Lock()
	if err, disabled := s.oauthDisabled[providerID]; disabled {
		s.mu.Unlock()
		return Credential{}, err
	}
	cred, cached := s.oauth[providerID]
	s.mu.Unlock()

	if !cached {
		if s.persistence == nil {
			return Credential{}, ErrNotFound
		}
		loaded, err := s.persistence.Load(ctx, providerID)
		if err != nil {
			return Credential{}, err
		}
		loaded.Method = MethodOAuth
		if loaded.ID == "" {
			loaded.ID = providerID + "-oauth"
		}
		cred = loaded
		s.mu.Lock()
		s.oauth[providerID] = cred
		s.mu.Unlock()
	}

	if NeedsRefresh(cred, s.clock.Now(), s.buffer) {
		return s.Refresh(ctx, cred)
	}
	return cred, nil
}

// Refresh exchanges cred's refresh token when its expiry is within the
// refresh buffer. The read-modify-write is scoped per provider: the stored
// credential is reloaded under the lock, so concurrent callers (or another
// process sharing the persistence) refresh at most once.
//
// On failure OAuth is disabled for the provider for the rest of the
// process and callers fall back to static keys.
func (s *Store) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	lock := s.refreshLock(cred.ProviderID)
	lock.Lock()
	defer lock.Unlock()

	latest := cred
	if s.persistence != nil {
		stored, err := s.persistence.Load(ctx, cred.ProviderID)
		switch {
		case err == nil:
			stored.Method = MethodOAuth
			if stored.ID == "" {
				stored.ID = cred.ID
			}
			latest = stored
		case !errors.Is(err, ErrNotFound):
			s.logger.Warn("reload credential before refresh failed",
				slog.String("provider", cred.ProviderID), slog.Any("error", err))
		}
	}

	now := s.clock.Now()
	if !NeedsRefresh(latest, now, s.buffer) {
		s.mu.Lock()
		s.oauth[latest.ProviderID] = latest
		s.mu.Unlock()
		return latest, nil
	}

	if s.refresher == nil {
		return Credential{}, s.disableOAuth(latest.ProviderID, fmt.Errorf("%w: no refresher configured", ErrAuthentication))
	}

	tok, err := s.refresher.Refresh(ctx, latest)
	if err != nil {
		return Credential{}, s.disableOAuth(latest.ProviderID, fmt.Errorf("%w: %w", ErrAuthentication, err))
	}

	next := ApplyToken(latest, tok, now)
	if s.persistence != nil {
		if err := s.persistence.Save(ctx, next.ProviderID, next); err != nil {
			s.logger.Warn("persist refreshed credential failed",
				slog.Any("credential", next), slog.Any("error", err))
		}
	}

	s.mu.Lock()
	s.oauth[next.ProviderID] = next
	s.mu.Unlock()

	s.logger.Info("refreshed oauth credential",
		slog.Any("credential", next), slog.Time("expiry", *next.Expiry))
	return next, nil
}

// MarkUnusable takes cred out of rotation for the rest of the process. For
// OAuth this disables OAuth for the provider.
func (s *Store) MarkUnusable(cred Credential, reason error) {
	if cred.IsOAuth() {
		_ = s.disableOAuth(cred.ProviderID, fmt.Errorf("%w: %w", ErrAuthentication, reason))
		return
	}
	s.mu.Lock()
	s.disabledKeys[cred.ID] = true
	s.mu.Unlock()
	s.logger.Warn("static key disabled", slog.Any("credential", cred), slog.Any("reason", reason))
}

// ResetOAuth clears the cached OAuth credential and the disabled flag for
// providerID, so the next acquisition reloads it from persistence.
func (s *Store) ResetOAuth(providerID string) {
	s.mu.Lock()
	delete(s.oauth, providerID)
	delete(s.oauthDisabled, providerID)
	s.mu.Unlock()
}

func (s *Store) disableOAuth(providerID string, err error) error {
	s.mu.Lock()
	s.oauthDisabled[providerID] = err
	s.mu.Unlock()
	s.logger.Warn("oauth disabled for provider, falling back to static keys",
		slog.String("provider", providerID), slog.Any("error", err))
	return err
}

func (s *Store) refreshLock(providerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.refreshLocks[providerID]
	if !ok {
		l = &sync.Mutex{}
		s.refreshLocks[providerID] = l
	}
	return l
}
