package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pkg/browser"

	"github.com/ibeckermayer/post4me/internal/auth"
	"github.com/ibeckermayer/post4me/internal/board"
	"github.com/ibeckermayer/post4me/internal/composer"
	"github.com/ibeckermayer/post4me/internal/config"
	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/digest"
	"github.com/ibeckermayer/post4me/internal/lifecycle"
	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/poller"
	"github.com/ibeckermayer/post4me/internal/remote"
	"github.com/ibeckermayer/post4me/internal/scheduler"
	"github.com/ibeckermayer/post4me/internal/session"
	"github.com/ibeckermayer/post4me/internal/snapshot"
	"github.com/ibeckermayer/post4me/internal/store"
	"github.com/ibeckermayer/post4me/internal/types"
)

// KeyDigestLastSent records when the last digest went out; the next digest
// covers activity since then.
const KeyDigestLastSent = "digest_last_sent"

const digestMaxPosts = 20

var (
	ErrNoMailer = errors.New("email is not configured")
	ErrNoTweet  = errors.New("post has no tweet URL")
)

// App holds the application state.
type App struct {
	mu sync.RWMutex

	// Immutable after creation.
	client   *remote.Client
	kv       *store.Store
	snap     *snapshot.Snapshot
	gate     *confirm.Gate
	bus      *notifier.Bus
	ctl      *lifecycle.Controller
	composer *composer.Session
	session  *session.Session
	auth     *auth.Manager
	sched    *scheduler.Scheduler
	loops    *poller.Group
	now      func() time.Time
	openURL  func(string) error
	cacheDir string

	// Mutable fields - use getSnapshot() for concurrent access.
	config *config.Config
	mailer *notifier.Notifier
	views  *poller.Group
	logs   string
}

// state holds fields that may be replaced by ReloadConfig.
// Use getSnapshot() to obtain a consistent, point-in-time copy.
type state struct {
	config *config.Config
	mailer *notifier.Notifier
	views  *poller.Group
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() state {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return state{
		config: a.config,
		mailer: a.mailer,
		views:  a.views,
	}
}

// Option customizes App construction.
type Option func(*App)

// WithMailer replaces the notifier built from the email config.
func WithMailer(n *notifier.Notifier) Option {
	return func(a *App) {
		if n != nil {
			a.mailer = n
		}
	}
}

// WithPresenter shows confirmation prompts.
func WithPresenter(p confirm.Presenter) Option {
	return func(a *App) {
		if p != nil {
			a.gate.SetPresenter(p)
		}
	}
}

// WithCacheDir sets where exports are written.
func WithCacheDir(dir string) Option {
	return func(a *App) {
		if dir != "" {
			a.cacheDir = dir
		}
	}
}

// WithClock is used by tests.
func WithClock(clock func() time.Time) Option {
	return func(a *App) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithURLOpener replaces the system browser.
func WithURLOpener(open func(string) error) Option {
	return func(a *App) {
		if open != nil {
			a.openURL = open
		}
	}
}

// New wires the application around cfg. kv holds local state such as the
// composer draft.
func New(cfg *config.Config, kv *store.Store, opts ...Option) (*App, error) {
	sched, err := scheduler.New(cfg.Profile.Timezone)
	if err != nil {
		return nil, err
	}

	a := &App{
		client:  remote.New(cfg.Server.BaseURL),
		kv:      kv,
		snap:    snapshot.New(),
		gate:    confirm.NewGate(),
		sched:   sched,
		loops:   poller.NewGroup(),
		now:     time.Now,
		openURL: browser.OpenURL,
		config:  cfg,
	}
	if cfg.Email.Configured() {
		if a.mailer, err = notifier.NewFromConfig(cfg.Email); err != nil {
			return nil, err
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cacheDir == "" {
		if a.cacheDir, err = config.CacheDir(); err != nil {
			return nil, err
		}
	}

	a.bus = notifier.NewBus(
		notifier.WithSink(notifier.LogSink{}),
		notifier.WithSink(notifier.SinkFunc(a.mailError)),
		notifier.WithClock(a.now),
	)
	a.ctl = lifecycle.New(a.client, a.gate, a.bus, a.snap,
		lifecycle.WithClock(a.now),
		lifecycle.WithAfterAction(func(lifecycle.Action, int64) { a.refreshViews() }),
	)
	if a.composer, err = composer.New(kv, a.ctl); err != nil {
		return nil, err
	}
	if a.session, err = session.New(kv, a.client); err != nil {
		return nil, err
	}
	a.auth = auth.NewManager(a.client, a.gate)
	return a, nil
}

func (a *App) Client() *remote.Client { return a.client }
func (a *App) Snapshot() *snapshot.Snapshot { return a.snap }
func (a *App) Gate() *confirm.Gate { return a.gate }
func (a *App) Bus() *notifier.Bus { return a.bus }
func (a *App) Controller() *lifecycle.Controller { return a.ctl }
func (a *App) Composer() *composer.Session { return a.composer }
func (a *App) Session() *session.Session { return a.session }
func (a *App) Auth() *auth.Manager { return a.auth }
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) Config() *config.Config { return a.getSnapshot().config }

// mailError forwards error events when mail_errors is on.
func (a *App) mailError(e notifier.Event) {
	s := a.getSnapshot()
	if s.mailer == nil || !s.config.Digest.MailErrors {
		return
	}
	notifier.NewEmailSink(s.mailer).Deliver(e)
}

// Start loads preferences, starts the status loop and the daily jobs.
func (a *App) Start(ctx context.Context) error {
	if err := a.session.LoadPreferences(ctx); err != nil {
		log.Printf("Failed to load preferences: %v", err)
	}
	if err := a.session.RecheckGoogle(ctx); err != nil {
		log.Printf("Google check failed: %v", err)
	}
	s := a.getSnapshot()
	if err := a.loops.Add(ctx, a.session.Loop(s.config.Polling.Status())); err != nil {
		return err
	}
	if err := a.scheduleJobs(s.config); err != nil {
		return err
	}
	a.sched.Start()
	return nil
}

func (a *App) scheduleJobs(cfg *config.Config) error {
	if err := a.sched.AddProfileRefreshJob(cfg.Profile.RefreshTime, a.RefreshProfile); err != nil {
		return err
	}
	if cfg.Digest.Enabled {
		return a.sched.AddDigestJob(cfg.Digest.SendTime, a.SendDigest)
	}
	a.sched.RemoveJob(scheduler.JobDigest)
	return nil
}

// Close stops every loop and waits for running jobs.
func (a *App) Close() {
	a.CloseView()
	a.loops.Stop()
	<-a.sched.Stop().Done()
	log.Println("Application stopped")
}

// ShowView opens a board for view, cancelling the loops of the view shown
// before it.
func (a *App) ShowView(ctx context.Context, view board.View, onRefresh func(board.View)) (*board.Board, error) {
	s := a.getSnapshot()
	g := poller.NewGroup()

	a.mu.Lock()
	old := a.views
	a.views = g
	a.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	b := board.New(view, a.client, a.snap,
		board.WithIntervals(s.config.Polling.Active(), s.config.Polling.Idle()),
		board.WithOnRefresh(onRefresh),
	)
	if err := b.Open(ctx, g); err != nil {
		return nil, err
	}
	return b, nil
}

// CloseView stops the loops of the current view.
func (a *App) CloseView() {
	a.mu.Lock()
	g := a.views
	a.views = nil
	a.mu.Unlock()
	if g != nil {
		g.Stop()
	}
}

func (a *App) refreshViews() {
	if g := a.getSnapshot().views; g != nil {
		g.Trigger()
	}
}

// FollowLogs starts or stops the backend log tail. Each poll replaces the
// buffer returned by Logs.
func (a *App) FollowLogs(ctx context.Context, on bool) error {
	const name = "logs"
	if l, ok := a.loops.Get(name); ok {
		if !on {
			l.Stop()
			return nil
		}
		if l.Running() {
			return nil
		}
		return l.Start(ctx)
	}
	if !on {
		return nil
	}
	interval := a.getSnapshot().config.Polling.Logs()
	return a.loops.Add(ctx, poller.New(name, poller.Fixed(interval), a.pollLogs))
}

func (a *App) pollLogs(ctx context.Context) error {
	logs, err := a.client.Logs(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.logs = logs
	a.mu.Unlock()
	return nil
}

// Logs returns the last log tail fetched by FollowLogs.
func (a *App) Logs() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logs
}

// RefreshProfile asks the backend to re-read the X profile, then reloads it.
func (a *App) RefreshProfile(ctx context.Context) error {
	log.Println("Profile refresh triggered")
	res, err := a.client.FetchProfile(ctx)
	if err != nil {
		a.bus.Error(0, lifecycle.Describe(err))
		return err
	}
	if !res.Success {
		a.bus.Error(0, res.Error)
		return fmt.Errorf("fetch profile: %s", res.Error)
	}
	if err := a.session.RefreshProfile(ctx); err != nil {
		return err
	}
	a.bus.Success(0, "Profile refreshed")
	return nil
}

// BuildDigest collects the activity since the last digest.
func (a *App) BuildDigest(ctx context.Context) (*digest.Digest, error) {
	now := a.now()
	since, ok, err := a.kv.GetTime(KeyDigestLastSent)
	if err != nil {
		log.Printf("Ignoring unreadable %s: %v", KeyDigestLastSent, err)
	}
	if !ok || err != nil {
		since = now.Add(-24 * time.Hour)
	}

	in := digest.Input{Since: since}
	if in.Posted, err = a.client.List(ctx, types.StatusPosted); err != nil {
		return nil, fmt.Errorf("list posted: %w", err)
	}
	if in.Failed, err = a.client.List(ctx, types.StatusError); err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	if in.Upcoming, err = a.client.ListSchedule(ctx); err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	if stats, err := a.client.ProfileStats(ctx); err != nil {
		log.Printf("Digest without stats: %v", err)
	} else {
		in.Stats = &stats
	}

	builder, err := digest.New(digestMaxPosts)
	if err != nil {
		return nil, err
	}
	builder.SetClock(func() time.Time { return now })
	return builder.Build(in)
}

// SendDigest builds and mails the digest. Nothing is sent when there is no
// activity.
func (a *App) SendDigest(ctx context.Context) error {
	log.Println("Send digest triggered")
	s := a.getSnapshot()
	if s.mailer == nil {
		return ErrNoMailer
	}
	d, err := a.BuildDigest(ctx)
	if err != nil {
		log.Printf("Failed to build digest: %v", err)
		return err
	}
	if d.Empty() {
		log.Println("No activity - no digest sent")
		return nil
	}
	if err := s.mailer.SendDigest(d); err != nil {
		log.Printf("Failed to send digest: %v", err)
		return err
	}
	if err := a.kv.SetTime(KeyDigestLastSent, d.CreatedAt); err != nil {
		log.Printf("Failed to record digest time: %v", err)
	}
	log.Printf("Digest sent (%d posts)", len(d.PostIDs))
	return nil
}

// ExportPosts writes every post to a JSON file in the cache directory.
func (a *App) ExportPosts(ctx context.Context) (string, error) {
	posts, err := a.client.List(ctx, "")
	if err != nil {
		return "", err
	}
	path, err := store.ExportPosts(a.cacheDir, posts)
	if err != nil {
		return "", err
	}
	log.Printf("Exported %d posts to: %s", len(posts), path)
	return path, nil
}

// ExportLogs saves the backend log tail in the cache directory.
func (a *App) ExportLogs(ctx context.Context) (string, error) {
	logs, err := a.client.Logs(ctx)
	if err != nil {
		return "", err
	}
	path, err := store.ExportLogs(a.cacheDir, logs)
	if err != nil {
		return "", err
	}
	log.Printf("Exported logs to: %s", path)
	return path, nil
}

// OpenWebUI opens the backend's web interface.
func (a *App) OpenWebUI() error {
	return a.openURL(a.getSnapshot().config.Server.WebURL)
}

// OpenTweet opens the published tweet of a post.
func (a *App) OpenTweet(ctx context.Context, id int64) error {
	p, ok := a.snap.Get(id)
	if !ok {
		var err error
		if p, err = a.client.Get(ctx, id); err != nil {
			return err
		}
	}
	if p.TweetURL == "" {
		return ErrNoTweet
	}
	return a.openURL(p.TweetURL)
}

// OpenConfig opens the config file in the default editor.
func (a *App) OpenConfig() error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	log.Printf("Opening config: %s", path)
	return browser.OpenFile(path)
}

// Logout clears the X credentials after confirmation and rechecks the
// session.
func (a *App) Logout(ctx context.Context) error {
	log.Println("Logout triggered - clearing stored credentials")
	if err := a.auth.Logout(ctx); err != nil {
		if !errors.Is(err, auth.ErrCancelled) {
			log.Printf("Logout failed: %v", err)
			a.bus.Error(0, lifecycle.Describe(err))
		}
		return err
	}
	a.bus.Success(0, "Logged out")
	return a.session.Check(ctx)
}

// ReloadConfig reloads the configuration from disk. The server URL is read
// once at startup.
func (a *App) ReloadConfig() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return a.applyConfig(cfg)
}

func (a *App) applyConfig(cfg *config.Config) error {
	var mailer *notifier.Notifier
	if cfg.Email.Configured() {
		var err error
		if mailer, err = notifier.NewFromConfig(cfg.Email); err != nil {
			return err
		}
	}
	if err := a.scheduleJobs(cfg); err != nil {
		return err
	}

	a.mu.Lock()
	if cfg.Server.BaseURL != a.config.Server.BaseURL {
		log.Printf("Server URL changed to %s - restart to apply", cfg.Server.BaseURL)
	}
	a.config = cfg
	a.mailer = mailer
	a.mu.Unlock()

	log.Println("Configuration reloaded")
	return nil
}
