package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/rashee1997/orchestrator-sub006/clock"
	"github.com/rashee1997/orchestrator-sub006/config"
	"github.com/rashee1997/orchestrator-sub006/credential"
	"github.com/rashee1997/orchestrator-sub006/credential/filestore"
	"github.com/rashee1997/orchestrator-sub006/credential/sqlitestore"
	"github.com/rashee1997/orchestrator-sub006/dispatch"
	"github.com/rashee1997/orchestrator-sub006/model"
	"github.com/rashee1997/orchestrator-sub006/prompt"
	"github.com/rashee1997/orchestrator-sub006/provider"
	_ "github.com/rashee1997/orchestrator-sub006/providers"
	"github.com/rashee1997/orchestrator-sub006/ratelimit"
	"github.com/rashee1997/orchestrator-sub006/repair"
	"github.com/rashee1997/orchestrator-sub006/search"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("orchestrator closed")

// Orchestrator is the context every operation runs in. Safe for
// concurrent use.
type Orchestrator struct {
	cfg        *config.Config
	clock      clock.Clock
	logger     *slog.Logger
	registry   *model.Registry
	creds      *credential.Store
	limiter    *ratelimit.Limiter
	dispatcher *dispatch.Dispatcher
	prompts    *prompt.Engine
	repair     *repair.Pipeline
	aliases    *search.AliasTable

	closers []func() error
	stop    context.CancelFunc
	watchWG sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type settings struct {
	cfg         *config.Config
	clock       clock.Clock
	logger      *slog.Logger
	persistence credential.Persistence
	refresher   credential.Refresher
	transports  []provider.Transport
	tracer      trace.TracerProvider
	prompts     *prompt.Engine
}

// Option configures New.
type Option func(*settings)

// WithConfig sets the configuration. It is validated again by New.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) {
		s.cfg = cfg
	}
}

// WithClock sets the time source shared by every component.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		s.clock = c
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithPersistence overrides the OAuth persistence named in the config.
func WithPersistence(p credential.Persistence) Option {
	return func(s *settings) {
		s.persistence = p
	}
}

// WithRefresher overrides the OAuth refresher built from the config.
func WithRefresher(r credential.Refresher) Option {
	return func(s *settings) {
		s.refresher = r
	}
}

// WithTransport supplies a ready transport for the provider it reports,
// instead of building one from the config.
func WithTransport(t provider.Transport) Option {
	return func(s *settings) {
		s.transports = append(s.transports, t)
	}
}

// WithTracerProvider sets the tracer provider for dispatch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		s.tracer = tp
	}
}

// WithPrompts replaces the built-in prompt engine.
func WithPrompts(e *prompt.Engine) Option {
	return func(s *settings) {
		s.prompts = e
	}
}

// New builds every component from the configuration, probes which models
// have credentials, and starts the credential file watcher when
// configured. Call Close when done.
func New(ctx context.Context, opts ...Option) (*Orchestrator, error) {
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s.clock = clock.OrReal(s.clock)
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.prompts == nil {
		s.prompts = prompt.New()
	}

	o := &Orchestrator{
		cfg:     s.cfg,
		clock:   s.clock,
		logger:  s.logger,
		prompts: s.prompts,
	}
	ok := false
	defer func() {
		if !ok {
			_ = o.Close()
		}
	}()

	persistence, err := o.openPersistence(s.persistence)
	if err != nil {
		return nil, err
	}
	refresher := s.refresher
	if refresher == nil && len(s.cfg.Credentials.OAuth) > 0 {
		refresher = credential.NewOAuth2Refresher(s.cfg.Credentials.OAuth)
	}
	storeOpts := []credential.StoreOption{
		credential.WithClock(o.clock),
		credential.WithPersistence(persistence),
		credential.WithRefreshBuffer(s.cfg.Credentials.RefreshBuffer),
		credential.WithLogger(o.logger),
	}
	if refresher != nil {
		storeOpts = append(storeOpts, credential.WithRefresher(refresher))
	}
	for providerID, keys := range s.cfg.Credentials.Keys.ByProvider() {
		storeOpts = append(storeOpts, credential.WithStaticKeys(providerID, keys...))
	}
	o.creds = credential.NewStore(storeOpts...)

	if o.registry, err = s.cfg.Registry(); err != nil {
		return nil, err
	}
	if o.aliases, err = s.cfg.AliasTable(); err != nil {
		return nil, err
	}

	transports, err := o.buildTransports(s.transports)
	if err != nil {
		return nil, err
	}

	available := o.registry.Probe(ctx, o.creds)
	if available == 0 {
		o.logger.Warn("no model has a usable credential; every dispatch will fail until one is added")
	}

	o.limiter = ratelimit.New(append(s.cfg.LimiterOptions(), ratelimit.WithClock(o.clock))...)
	dopts := []dispatch.Option{
		dispatch.WithLimiter(o.limiter),
		dispatch.WithClock(o.clock),
		dispatch.WithLogger(o.logger),
		dispatch.WithBackoffStep(s.cfg.Dispatch.BackoffStep),
		dispatch.WithDefaults(s.cfg.DispatchOptions()),
	}
	if s.tracer != nil {
		dopts = append(dopts, dispatch.WithTracerProvider(s.tracer))
	}
	for _, t := range transports {
		dopts = append(dopts, dispatch.WithTransport(t))
	}
	if o.dispatcher, err = dispatch.New(o.registry, s.cfg.Rules, o.creds, dopts...); err != nil {
		return nil, err
	}

	o.repair = repair.New(
		repair.WithModel(repair.ModelCallerFunc(o.callRepair)),
		repair.WithPrompts(o.prompts),
		repair.WithLogger(o.logger),
	)

	if fs, isFile := persistence.(*filestore.Store); isFile && s.cfg.Credentials.Watch {
		o.watch(fs)
	}

	o.logger.Info("orchestrator ready",
		slog.Int("models", len(o.registry.All())),
		slog.Int("available", available),
		slog.Int("transports", len(transports)))
	ok = true
	return o, nil
}

func (o *Orchestrator) openPersistence(override credential.Persistence) (credential.Persistence, error) {
	if override != nil {
		return override, nil
	}
	cc := o.cfg.Credentials
	switch cc.Persistence {
	case config.PersistenceFile:
		return filestore.New(cc.Path, filestore.WithLogger(o.logger)), nil
	case config.PersistenceSQLite:
		var (
			st  *sqlitestore.Store
			err error
		)
		if cc.DSN != "" {
			st, err = sqlitestore.OpenDSN(cc.DSN)
		} else {
			st, err = sqlitestore.Open(cc.Path)
		}
		if err != nil {
			return nil, fmt.Errorf("open credential database: %w", err)
		}
		o.closers = append(o.closers, st.Close)
		return st, nil
	default:
		return credential.NewMemory(), nil
	}
}

// buildTransports creates a transport for every configured provider that
// some model uses. Supplied transports take precedence and stay owned by
// the caller; built ones that hold processes are closed by Close.
func (o *Orchestrator) buildTransports(supplied []provider.Transport) ([]provider.Transport, error) {
	have := make(map[string]bool, len(supplied))
	out := append([]provider.Transport(nil), supplied...)
	for _, t := range supplied {
		have[t.Provider()] = true
	}

	used := make(map[string]bool)
	for _, d := range o.registry.All() {
		used[d.ProviderID] = true
	}
	for id, pc := range o.cfg.Providers {
		if have[id] || !used[id] {
			continue
		}
		if pc.ProviderID == "" {
			pc.ProviderID = id
		}
		t, err := provider.New(pc.Kind, pc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		if c, ok := t.(io.Closer); ok {
			o.closers = append(o.closers, c.Close)
		}
		out = append(out, t)
	}
	return out, nil
}

// watch reloads OAuth credentials when another process replaces the
// credentials file, and re-enables models whose provider became usable.
func (o *Orchestrator) watch(fs *filestore.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	o.stop = cancel
	o.watchWG.Add(1)
	go func() {
		defer o.watchWG.Done()
		err := fs.Watch(ctx, func(providerID string) {
			o.creds.ResetOAuth(providerID)
			usable := o.creds.HasCredentials(ctx, providerID)
			for _, d := range o.registry.All() {
				if d.ProviderID == providerID && usable && !d.Available {
					_ = o.registry.SetAvailable(d.ID, true)
				}
			}
			o.logger.Info("credentials reloaded", slog.String("provider", providerID), slog.Bool("usable", usable))
		})
		if err != nil {
			o.logger.Warn("credential watcher stopped", slog.Any("error", err))
		}
	}()
}

func (o *Orchestrator) callRepair(ctx context.Context, text, system string) (string, error) {
	res, err := o.dispatcher.Dispatch(ctx, model.TaskJSONRepair, text, system, dispatch.Options{})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (o *Orchestrator) checkOpen() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	return nil
}

// Dispatch sends one request for task through the fallback chain.
func (o *Orchestrator) Dispatch(ctx context.Context, task model.TaskType, prompt, system string, opts dispatch.Options) (*dispatch.Result, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}
	return o.dispatcher.Dispatch(ctx, task, prompt, system, opts)
}

// DispatchBatch runs jobs in paced batches using the configured batch
// defaults for zero fields of opts.
func (o *Orchestrator) DispatchBatch(ctx context.Context, jobs []dispatch.Job, opts dispatch.BatchOptions) ([]dispatch.JobResult, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}
	def := o.cfg.BatchOptions()
	if opts.Size <= 0 {
		opts.Size = def.Size
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.Delay <= 0 {
		opts.Delay = def.Delay
	}
	return o.dispatcher.DispatchBatch(ctx, jobs, opts)
}

// RepairJSON coerces raw model output into JSON of the hinted shape. It
// may make one json_repair dispatch. It never fails; see Result.Success.
func (o *Orchestrator) RepairJSON(ctx context.Context, raw string, hint repair.Hint) repair.Result {
	return o.repair.Repair(ctx, raw, hint)
}

// RunIterativeSearch runs the search loop over index, and over web when
// it is non-nil and web search is enabled by opts or the config. Zero
// fields of opts take the configured search defaults.
func (o *Orchestrator) RunIterativeSearch(ctx context.Context, query string, index, web search.Retriever, opts search.Options) (*search.Result, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}
	copts := []search.Option{
		search.WithRepair(o.repair),
		search.WithPrompts(o.prompts),
		search.WithAliases(o.aliases),
		search.WithClock(o.clock),
		search.WithLogger(o.logger),
		search.WithDefaults(o.cfg.SearchOptions()),
	}
	if web != nil {
		copts = append(copts, search.WithWeb(web))
	}
	c, err := search.New(o.dispatcher, index, copts...)
	if err != nil {
		return nil, err
	}
	if !opts.EnableWebSearch {
		opts.EnableWebSearch = o.cfg.Search.EnableWebSearch
	}
	return c.Run(ctx, query, opts)
}

// Config returns the configuration in use.
func (o *Orchestrator) Config() *config.Config { return o.cfg }

// Registry returns the model registry.
func (o *Orchestrator) Registry() *model.Registry { return o.registry }

// Credentials returns the credential store.
func (o *Orchestrator) Credentials() *credential.Store { return o.creds }

// Limiter returns the rate limiter.
func (o *Orchestrator) Limiter() *ratelimit.Limiter { return o.limiter }

// Stats returns per-model dispatch statistics.
func (o *Orchestrator) Stats() *model.Stats { return o.dispatcher.Stats() }

// Close stops the credential watcher and closes persistence. Safe to call
// more than once.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if o.stop != nil {
		o.stop()
	}
	o.watchWG.Wait()

	var errs []error
	for _, c := range o.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
