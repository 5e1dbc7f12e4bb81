// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/timewarp/quickbooks-cli/internal/api"
	"github.com/timewarp/quickbooks-cli/internal/auth"
	"github.com/timewarp/quickbooks-cli/internal/config"
	"github.com/timewarp/quickbooks-cli/internal/oauth"
	"github.com/timewarp/quickbooks-cli/internal/observability"
	"github.com/timewarp/quickbooks-cli/internal/output"
	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Auth   *auth.Manager
	Client *api.Client
	Output *output.Writer
	Logger *slog.Logger
	Trace  *observability.TraceWriter

	// Flags holds the global flag values.
	Flags GlobalFlags
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	Realm   string
	Env     string
	Timeout int

	// Output format flags
	JSON  bool // the default; kept as an explicit flag for scripts
	YAML  bool
	Quiet bool
	JQ    string

	Verbose int // 0=off, 1=requests, 2=requests+slog debug
}

// NewApp creates a new App from the loaded configuration. Credentials
// live in the OS keyring, with a file fallback next to the config.
func NewApp(cfg *config.Config) (*App, error) {
	configDir := config.GlobalConfigDir()

	oauthClient := oauth.NewClient(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI)
	store := auth.NewKeyringStore(filepath.Join(configDir, "credentials"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	mgr := auth.NewManager(oauthClient, store, auth.Options{
		Scopes:      cfg.Scopes,
		RedirectURI: cfg.RedirectURI,
		Logger:      logger,
	})

	return &App{
		Config: cfg,
		Auth:   mgr,
		Client: api.NewClient(cfg, mgr),
		Logger: logger,
	}, nil
}

// ApplyFlags finishes wiring from the parsed global flags: output
// format, jq filter, and trace verbosity.
func (a *App) ApplyFlags() error {
	format := output.FormatJSON
	switch {
	case a.Flags.Quiet:
		format = output.FormatQuiet
	case a.Flags.YAML && !a.Flags.JSON:
		format = output.FormatYAML
	}

	w, err := output.New(output.Options{
		Format: format,
		Filter: a.Flags.JQ,
		Writer: os.Stdout,
		ErrOut: os.Stderr,
	})
	if err != nil {
		return err
	}
	a.Output = w

	verbose := a.Flags.Verbose
	if os.Getenv("QB_DEBUG") != "" {
		verbose = 2
	}
	if verbose > 0 {
		a.Trace = observability.NewTraceWriter()
		a.Client.SetTrace(a.Trace)
	}
	if verbose > 1 {
		a.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return nil
}

// RealmID resolves the realm for a command: the --realm flag wins,
// then the configured default.
func (a *App) RealmID() (string, error) {
	if a.Flags.Realm != "" {
		return a.Flags.Realm, nil
	}
	if a.Config.RealmID != "" {
		return a.Config.RealmID, nil
	}
	return "", qberrors.ErrUsage("no realm selected; pass --realm or run: qb config set realm_id <id>")
}

// OK outputs a success response.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	return a.Output.OK(data, opts...)
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
