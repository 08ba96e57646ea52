package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	DefaultVersion      = "16"
	DefaultPort         = 8081
	DefaultStartTimeout = time.Minute

	user     = "postgres"
	password = "postgres"
	database = "postgres"
)

var (
	// ErrAlreadyStarted is returned by Start on a lifecycle that is not idle.
	ErrAlreadyStarted = errors.New("bootstrap: embedded postgres already started")
	// ErrNotStarted is returned by Stop on a lifecycle that was never started.
	ErrNotStarted = errors.New("bootstrap: embedded postgres not started")
	// ErrRuntimeDirLocked means another process owns the runtime directory.
	ErrRuntimeDirLocked = errors.New("bootstrap: runtime directory is in use by another process")
)

var supportedVersions = map[string]embeddedpostgres.PostgresVersion{
	"16": embeddedpostgres.V16,
	"15": embeddedpostgres.V15,
	"14": embeddedpostgres.V14,
	"13": embeddedpostgres.V13,
	"12": embeddedpostgres.V12,
}

// State is the lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config describes the local server to provision.
type Config struct {
	Version      string
	Port         uint32
	RuntimeDir   string
	InitSQL      string // path of a script run once the server is up
	StartTimeout time.Duration
}

func (c *Config) normalize() {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.RuntimeDir == "" {
		c.RuntimeDir = filepath.Join(os.TempDir(), "pipebench-pg")
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
}

// URI returns the connect URI of the server described by c.
func (c Config) URI() string {
	return fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, c.Port, database)
}

// Server is a startable database process.
type Server interface {
	Start() error
	Stop() error
}

// ServerFactory builds the Server for a normalized Config.
type ServerFactory func(cfg Config, logger *zap.Logger) (Server, error)

// Initializer runs script against uri.
type Initializer func(ctx context.Context, uri, script string) error

// Option customizes a Lifecycle.
type Option func(*Lifecycle)

// WithServerFactory replaces the embedded-postgres server.
func WithServerFactory(f ServerFactory) Option {
	return func(l *Lifecycle) { l.factory = f }
}

// WithInitializer replaces the pgx script runner.
func WithInitializer(f Initializer) Option {
	return func(l *Lifecycle) { l.initialize = f }
}

// WithLogger sets the logger receiving server output.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Lifecycle) { l.logger = logger }
}

// Lifecycle owns one local PostgreSQL server. Construct it once per process
// and pass it to whatever needs the server; it starts at most once.
type Lifecycle struct {
	cfg        Config
	factory    ServerFactory
	initialize Initializer
	logger     *zap.Logger

	mu     sync.Mutex
	state  State
	server Server
	lock   *flock.Flock
}

// New returns an idle Lifecycle for cfg.
func New(cfg Config, opts ...Option) *Lifecycle {
	cfg.normalize()
	l := &Lifecycle{
		cfg:        cfg,
		factory:    newEmbeddedServer,
		initialize: runScript,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the normalized configuration.
func (l *Lifecycle) Config() Config {
	return l.cfg
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start provisions the server, runs the init script if one is configured and
// returns the connect URI. It fails with ErrAlreadyStarted unless the
// lifecycle is idle. A failed Start leaves it idle.
func (l *Lifecycle) Start(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateIdle {
		return "", ErrAlreadyStarted
	}

	if err := os.MkdirAll(filepath.Dir(l.cfg.RuntimeDir), 0o755); err != nil {
		return "", fmt.Errorf("create runtime parent: %w", err)
	}
	lock := flock.New(l.cfg.RuntimeDir + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return "", fmt.Errorf("lock runtime dir: %w", err)
	}
	if !locked {
		return "", fmt.Errorf("%w: %s", ErrRuntimeDirLocked, l.cfg.RuntimeDir)
	}

	server, err := l.factory(l.cfg, l.logger)
	if err != nil {
		_ = lock.Unlock()
		return "", err
	}
	l.logger.Info("starting embedded postgres",
		zap.String("version", l.cfg.Version),
		zap.Uint32("port", l.cfg.Port),
		zap.String("runtime_dir", l.cfg.RuntimeDir))
	if err := server.Start(); err != nil {
		_ = lock.Unlock()
		return "", fmt.Errorf("start embedded postgres: %w", err)
	}

	uri := l.cfg.URI()
	if l.cfg.InitSQL != "" {
		if err := l.runInit(ctx, uri); err != nil {
			_ = server.Stop()
			_ = lock.Unlock()
			return "", err
		}
	}

	l.server = server
	l.lock = lock
	l.state = StateStarted
	return uri, nil
}

func (l *Lifecycle) runInit(ctx context.Context, uri string) error {
	script, err := os.ReadFile(l.cfg.InitSQL)
	if err != nil {
		return fmt.Errorf("read init sql: %w", err)
	}
	l.logger.Info("running init sql", zap.String("path", l.cfg.InitSQL))
	if err := l.initialize(ctx, uri, string(script)); err != nil {
		return fmt.Errorf("run init sql %s: %w", l.cfg.InitSQL, err)
	}
	return nil
}

// Stop stops a started server and releases the runtime directory. Stopping
// a stopped lifecycle is a no-op.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle:
		return ErrNotStarted
	case StateStopped:
		return nil
	}

	l.state = StateStopped
	var errs []error
	if err := l.server.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop embedded postgres: %w", err))
	}
	if err := l.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock runtime dir: %w", err))
	}
	l.server = nil
	l.lock = nil
	return errors.Join(errs...)
}

// SupportedVersions lists the accepted Config.Version values.
func SupportedVersions() []string {
	versions := make([]string, 0, len(supportedVersions))
	for v := range supportedVersions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// ValidateVersion reports whether version can be provisioned.
func ValidateVersion(version string) error {
	if version == "" {
		return nil
	}
	if _, ok := supportedVersions[version]; !ok {
		return fmt.Errorf("embedded postgres supports versions %s, not %q", strings.Join(SupportedVersions(), ", "), version)
	}
	return nil
}

func newEmbeddedServer(cfg Config, logger *zap.Logger) (Server, error) {
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	pgCfg := embeddedpostgres.DefaultConfig().
		Version(supportedVersions[cfg.Version]).
		Port(cfg.Port).
		Username(user).
		Password(password).
		Database(database).
		RuntimePath(cfg.RuntimeDir).
		StartTimeout(cfg.StartTimeout).
		Logger(zap.NewStdLog(logger.Named("postgres")).Writer())
	return embeddedpostgres.NewDatabase(pgCfg), nil
}

func runScript(ctx context.Context, uri, script string) error {
	conn, err := pgx.Connect(ctx, uri)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	// Without arguments pgx uses the simple protocol, which accepts
	// multi-statement scripts.
	_, err = conn.Exec(ctx, script)
	return err
}
