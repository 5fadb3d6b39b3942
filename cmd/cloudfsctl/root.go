package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/config"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/tokenstore"

	// Blank-import every backend so its init() registers it with
	// the provider registry; cloudfsctl should be able to reach any of them
	// by name without the caller wiring anything up.
	_ "github.com/tonimelisma/cloudfs/internal/providers/amazons3"
	_ "github.com/tonimelisma/cloudfs/internal/providers/box"
	_ "github.com/tonimelisma/cloudfs/internal/providers/dropbox"
	_ "github.com/tonimelisma/cloudfs/internal/providers/fourshared"
	_ "github.com/tonimelisma/cloudfs/internal/providers/googledrive"
	_ "github.com/tonimelisma/cloudfs/internal/providers/gphotos"
	_ "github.com/tonimelisma/cloudfs/internal/providers/hubic"
	_ "github.com/tonimelisma/cloudfs/internal/providers/local"
	_ "github.com/tonimelisma/cloudfs/internal/providers/mega"
	_ "github.com/tonimelisma/cloudfs/internal/providers/onedrive"
	_ "github.com/tonimelisma/cloudfs/internal/providers/pcloud"
	_ "github.com/tonimelisma/cloudfs/internal/providers/webdav"
	_ "github.com/tonimelisma/cloudfs/internal/providers/yandex"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagAccount    string
	flagProvider   string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that resolve accounts themselves
// (login constructs one from scratch; it has no saved account to load yet).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles everything a command needs to talk to a provider:
// the resolved account, a running async runtime, and the durable stores.
// Built once in PersistentPreRunE.
type CLIContext struct {
	Account *config.ResolvedAccount
	Cfg     *config.Config
	Logger  *slog.Logger
	Tokens  *tokenstore.Store

	Pool *cloudcore.ThreadPool
	Loop *cloudcore.EventLoop
}

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Use in RunE handlers for commands that require an account (no
// skipConfigAnnotation) — the command tree guarantees PersistentPreRunE ran
// first.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command is missing skipConfigAnnotation or RunE loads its own state")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cloudfsctl",
		Short:         "Uniform cloud storage CLI",
		Long:          "A single filesystem-flavored CLI front end over every cloudfs provider backend.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadCLIContext(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return closeCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagAccount, "account", "", "account name to operate as")
	cmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "provider backend name (only needed for login)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newMvCmd())

	return cmd
}

// loadCLIContext resolves the effective account config, opens the token
// store, starts the async runtime, and stores the bundle in the command's
// context for RunE handlers to pick up.
func loadCLIContext(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath, Account: flagAccount}

	account, cfg, err := config.LoadAndResolveAccount(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	finalLogger := buildLogger(account)

	tokens, err := tokenstore.Open(config.TokenStorePath(), finalLogger)
	if err != nil {
		return fmt.Errorf("opening token store: %w", err)
	}

	pool := cloudcore.NewThreadPool(int64(account.Transfers.ParallelDownloads))
	loop := cloudcore.NewEventLoop()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	go loop.Exec(loopCtx)

	cc := &CLIContext{
		Account: account,
		Cfg:     cfg,
		Logger:  finalLogger,
		Tokens:  tokens,
		Pool:    pool,
		Loop:    loop,
	}

	cmd.SetContext(context.WithValue(withLoopCancel(ctx, cancel), cliContextKey{}, cc))

	return nil
}

// loopCancelKey stashes the event loop's cancel func so
// closeCLIContext can stop the background pump cleanly.
type loopCancelKey struct{}

func withLoopCancel(ctx context.Context, cancel context.CancelFunc) context.Context {
	return context.WithValue(ctx, loopCancelKey{}, cancel)
}

func closeCLIContext(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}

	cc := cliContextFrom(ctx)
	if cc == nil {
		return nil
	}

	if cancel, ok := ctx.Value(loopCancelKey{}).(context.CancelFunc); ok {
		cancel()
	}

	cc.Pool.Wait()

	return cc.Tokens.Close()
}

// buildLogger creates an slog.Logger configured by the resolved account and
// CLI flags. Pass nil for pre-config bootstrap. Account log level provides
// the baseline; --verbose, --debug, and --quiet override it because CLI
// flags always win.
func buildLogger(account *config.ResolvedAccount) *slog.Logger {
	level := slog.LevelWarn

	if account != nil {
		switch account.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newProviderBackend constructs the provider.Provider for cc's resolved
// account, wiring the shared thread pool and event loop.
func newProviderBackend(cc *CLIContext) (provider.Provider, error) {
	return provider.Create(cc.Account.ProviderName(), provider.InitData{
		Token:      cc.Account.Token,
		Hints:      cc.Account.Hints,
		Permission: provider.ReadWrite,
		Callback:   provider.NopAuthCallback{},
		Pool:       cc.Pool,
		Loop:       cc.Loop,
		Logger:     cc.Logger,
	})
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
