// Package manager owns one delegate per configured account and fans refreshes
// out across them.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tengjizhang/feedsync/internal/account"
	"github.com/tengjizhang/feedsync/internal/config"
	"github.com/tengjizhang/feedsync/internal/content"
	"github.com/tengjizhang/feedsync/internal/discover"
	"github.com/tengjizhang/feedsync/internal/model"
	"github.com/tengjizhang/feedsync/internal/newsblur"
	"github.com/tengjizhang/feedsync/internal/progress"
	"github.com/tengjizhang/feedsync/internal/store"
)

// maxConcurrentRefreshes bounds how many accounts refresh at once.
const maxConcurrentRefreshes = 4

type Options struct {
	Logger *slog.Logger
	// HTTPClient overrides the transport of every NewsBlur client.
	HTTPClient *http.Client
}

type Manager struct {
	store  *store.Store
	cfg    config.Config
	logger *slog.Logger

	mu          sync.Mutex
	delegates   map[string]*newsblur.Delegate
	unsubscribe map[string]func()
}

// RefreshOptions adjusts Refresh.
type RefreshOptions struct {
	// Stories downloads every unread story after the account refresh.
	Stories bool
}

// New registers every configured account, builds its delegate and loads its
// persisted graph. Accounts known to the store but absent from the config
// stay available for local reads.
func New(ctx context.Context, st *store.Store, cfg config.Config, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:       st,
		cfg:         cfg,
		logger:      logger,
		delegates:   make(map[string]*newsblur.Delegate),
		unsubscribe: make(map[string]func()),
	}

	renderer := content.NewRenderer()
	discoClient := opts.HTTPClient
	if discoClient == nil {
		discoClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	discoverer := discover.New(discoClient, cfg.UserAgent)

	configured := make(map[string]config.Account, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		if _, _, err := st.EnsureAccount(ctx, a.Name, a.Type, a.Username); err != nil {
			return nil, fmt.Errorf("register account %s: %w", a.Name, err)
		}
		configured[a.Name] = a
	}

	infos, err := st.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Type != newsblur.AccountType {
			logger.Warn("skipping account of unsupported type", "account", info.Name, "type", info.Type)
			continue
		}
		acfg, ok := configured[info.Name]
		if !ok {
			acfg = config.Account{Name: info.Name, Type: info.Type, Username: info.Username}
		}
		d, err := m.newDelegate(info, acfg, renderer, discoverer, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		m.unsubscribe[info.ID] = d.Account().Subscribe(m.logEvent(info.Name))
		if err := d.Load(ctx); err != nil {
			m.unsubscribe[info.ID]()
			return nil, fmt.Errorf("load account %s: %w", info.Name, err)
		}
		m.delegates[info.ID] = d
	}
	return m, nil
}

func (m *Manager) newDelegate(info model.AccountInfo, acfg config.Account, renderer *content.Renderer, discoverer *discover.Discoverer, httpClient *http.Client) (*newsblur.Delegate, error) {
	accountID := info.ID
	client, err := newsblur.NewClient(newsblur.ClientConfig{
		BaseURL:    acfg.Server,
		Username:   acfg.Username,
		Password:   acfg.Password,
		SessionID:  info.SessionID,
		UserAgent:  m.cfg.UserAgent,
		Timeout:    m.cfg.HTTPTimeout,
		HTTPClient: httpClient,
		Logger:     m.logger.With("account", info.Name),
		OnSession: func(sessionID string) {
			if err := m.store.UpdateAccountSession(context.Background(), accountID, sessionID); err != nil {
				m.logger.Warn("persist session failed", "account", info.Name, "err", err)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", info.Name, err)
	}
	return newsblur.NewDelegate(info, newsblur.DelegateOptions{
		Store:             m.store,
		Client:            client,
		Renderer:          renderer,
		Discoverer:        discoverer,
		Logger:            m.logger,
		AutoPushThreshold: m.cfg.AutoPushThreshold,
		RetentionDays:     m.cfg.RetentionDays,
	}), nil
}

// logEvent traces graph and status changes of one account at debug level.
func (m *Manager) logEvent(name string) func(account.Event) {
	return func(ev account.Event) {
		switch e := ev.(type) {
		case account.ChildrenChanged:
			m.logger.Debug("account event", "account", name, "event", "children_changed", "folder", e.Folder)
		case account.BatchUpdated:
			m.logger.Debug("account event", "account", name, "event", "batch_updated", "changes", e.Changes)
		case account.StatusesChanged:
			m.logger.Debug("account event", "account", name, "event", "statuses_changed",
				"key", e.Key, "flag", e.Flag, "articles", len(e.ArticleIDs))
		}
	}
}

// Delegates returns every delegate ordered by account name.
func (m *Manager) Delegates() []*newsblur.Delegate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*newsblur.Delegate, 0, len(m.delegates))
	for _, d := range m.delegates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().Name < out[j].Info().Name })
	return out
}

// Delegate finds an account by ID or name. An empty ref selects the only
// account when there is exactly one.
func (m *Manager) Delegate(ref string) (*newsblur.Delegate, error) {
	all := m.Delegates()
	ref = strings.TrimSpace(ref)
	if ref == "" {
		switch len(all) {
		case 0:
			return nil, fmt.Errorf("no accounts configured: %w", store.ErrNotFound)
		case 1:
			return all[0], nil
		default:
			return nil, fmt.Errorf("%w: %d accounts configured, pick one with --account", store.ErrInvalidInput, len(all))
		}
	}
	for _, d := range all {
		info := d.Info()
		if info.ID == ref || info.Name == ref {
			return d, nil
		}
	}
	return nil, fmt.Errorf("account %q: %w", ref, store.ErrNotFound)
}

// RefreshAll refreshes every account concurrently. A failing account does
// not stop the others; all failures come back joined.
func (m *Manager) RefreshAll(ctx context.Context) error {
	return m.each(ctx, func(ctx context.Context, d *newsblur.Delegate) error {
		return d.RefreshAll(ctx)
	})
}

func (m *Manager) RefreshAccount(ctx context.Context, ref string) error {
	d, err := m.Delegate(ref)
	if err != nil {
		return err
	}
	return d.RefreshAll(ctx)
}

// targets is the account named by ref, or every account when ref is empty.
func (m *Manager) targets(ref string) ([]*newsblur.Delegate, error) {
	if strings.TrimSpace(ref) == "" {
		return m.Delegates(), nil
	}
	d, err := m.Delegate(ref)
	if err != nil {
		return nil, err
	}
	return []*newsblur.Delegate{d}, nil
}

// Refresh runs RefreshAll on the account named by ref, or on every account
// when ref is empty, and reports one result per account.
func (m *Manager) Refresh(ctx context.Context, ref string, opts RefreshOptions) ([]model.RefreshResult, error) {
	targets, err := m.targets(ref)
	if err != nil {
		return nil, err
	}

	results := make([]model.RefreshResult, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(maxConcurrentRefreshes)
	for i, d := range targets {
		g.Go(func() error {
			info := d.Info()
			res := model.RefreshResult{AccountID: info.ID, AccountName: info.Name, StartedAt: time.Now().UTC()}
			err := d.RefreshAll(ctx)
			if err == nil && opts.Stories {
				err = d.RefreshStories(ctx)
			}
			if err != nil {
				m.logger.Warn("account refresh failed", "account", info.Name, "err", err)
				res.Error = err.Error()
				errs[i] = err
			}
			res.EndedAt = time.Now().UTC()
			snap := d.Account().Snapshot()
			res.Feeds = len(snap.FlattenedFeeds())
			res.Folders = len(snap.Folders)
			if n, err := m.store.SelectPendingCount(ctx, info.ID); err == nil {
				res.Pending = n
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Sync pushes pending statuses and pulls the remote ones for the account
// named by ref, or for every account when ref is empty.
func (m *Manager) Sync(ctx context.Context, ref string) ([]model.SyncResult, error) {
	targets, err := m.targets(ref)
	if err != nil {
		return nil, err
	}

	results := make([]model.SyncResult, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(maxConcurrentRefreshes)
	for i, d := range targets {
		g.Go(func() error {
			info := d.Info()
			res := model.SyncResult{AccountID: info.ID, AccountName: info.Name}
			if err := d.SyncArticleStatus(ctx); err != nil {
				m.logger.Warn("account sync failed", "account", info.Name, "err", err)
				res.Error = err.Error()
				errs[i] = err
			}
			if stats, err := m.store.GetStats(ctx, info.ID); err == nil {
				res.Unread, res.Starred, res.Pending = stats.Unread, stats.Starred, stats.Pending
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

func (m *Manager) each(ctx context.Context, fn func(context.Context, *newsblur.Delegate) error) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(maxConcurrentRefreshes)
	for _, d := range m.Delegates() {
		g.Go(func() error {
			if err := fn(ctx, d); err != nil {
				m.logger.Warn("account refresh failed", "account", d.Info().Name, "err", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Progress combines the progress of every account.
func (m *Manager) Progress() progress.Snapshot {
	all := m.Delegates()
	trackers := make([]*progress.DownloadProgress, 0, len(all))
	for _, d := range all {
		trackers = append(trackers, d.Progress())
	}
	return progress.Combine(trackers...)
}

func (m *Manager) Accounts(ctx context.Context) ([]model.AccountInfo, error) {
	return m.store.ListAccounts(ctx)
}

func (m *Manager) Tree(_ context.Context, ref string) (account.Snapshot, error) {
	d, err := m.Delegate(ref)
	if err != nil {
		return account.Snapshot{}, err
	}
	return d.Account().Snapshot(), nil
}

func (m *Manager) Stats(ctx context.Context, ref string) (model.Stats, error) {
	d, err := m.Delegate(ref)
	if err != nil {
		return model.Stats{}, err
	}
	return m.store.GetStats(ctx, d.Info().ID)
}

// Suspend cancels in-flight requests of every account.
func (m *Manager) Suspend() {
	for _, d := range m.Delegates() {
		d.Suspend()
	}
}

func (m *Manager) Resume() {
	for _, d := range m.Delegates() {
		d.Resume()
	}
}

// RemoveAccount forgets an account and all of its local data. Accounts still
// listed in the config would be registered again on the next start, so they
// are refused.
func (m *Manager) RemoveAccount(ctx context.Context, ref string) (model.AccountInfo, error) {
	d, err := m.Delegate(ref)
	if err != nil {
		return model.AccountInfo{}, err
	}
	info := d.Info()
	for _, a := range m.cfg.Accounts {
		if a.Name == info.Name {
			return model.AccountInfo{}, fmt.Errorf("%w: account %q is still in the config file", store.ErrConflict, info.Name)
		}
	}

	d.Suspend()
	if err := m.store.DeleteAccount(ctx, info.ID); err != nil {
		d.Resume()
		return model.AccountInfo{}, err
	}
	m.mu.Lock()
	delete(m.delegates, info.ID)
	if unsub := m.unsubscribe[info.ID]; unsub != nil {
		unsub()
		delete(m.unsubscribe, info.ID)
	}
	m.mu.Unlock()
	m.logger.Info("account removed", "account", info.Name)
	return info, nil
}
