package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/config"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/tokenstore"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize a new account against a provider",
		Long: `Authorize a new account: constructs the named provider backend,
prints the URL to open for consent, exchanges the authorization code you
paste back for a token, and saves the resulting account to the config file
and token store.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogin,
	}

	cmd.Flags().StringArray("hint", nil, "provider construction hint as key=value (repeatable, e.g. --hint client_id=...)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "logout",
		Short:       "Remove a saved account's credentials",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogout,
	}

	return cmd
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account's identity",
		RunE:  runWhoami,
	}
}

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Display the account's storage quota",
		RunE:  runQuota,
	}
}

// parseHints turns a list of "key=value" flag values into provider.Hints.
func parseHints(raw []string) (provider.Hints, error) {
	hints := make(provider.Hints, len(raw))

	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --hint %q, expected key=value", kv)
		}

		hints[key] = value
	}

	return hints, nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	if flagProvider == "" {
		return fmt.Errorf("login requires --provider (known: %v)", provider.Names())
	}

	rawHints, err := cmd.Flags().GetStringArray("hint")
	if err != nil {
		return err
	}

	hints, err := parseHints(rawHints)
	if err != nil {
		return err
	}

	logger := buildLogger(nil)

	pool := cloudcore.NewThreadPool(2)
	loop := cloudcore.NewEventLoop()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	go loop.Exec(ctx)
	defer loop.Quit()

	backend, err := provider.Create(flagProvider, provider.InitData{
		Hints:      hints,
		Permission: provider.ReadWrite,
		Callback:   provider.NopAuthCallback{},
		Pool:       pool,
		Loop:       loop,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("constructing %s: %w", flagProvider, err)
	}

	authURL := backend.AuthorizeLibraryURL()
	if authURL != "" {
		fmt.Fprintf(os.Stderr, "Open this URL to authorize, then paste the resulting code:\n\n  %s\n\ncode: ", authURL)

		reader := bufio.NewReader(os.Stdin)

		code, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading authorization code: %w", err)
		}

		code = strings.TrimSpace(code)

		tok, err := backend.ExchangeCode(code).Wait()
		if err != nil {
			return fmt.Errorf("exchanging authorization code: %w", err)
		}

		return saveLoggedInAccount(ctx, flagProvider, tok, hints, logger)
	}

	// Providers with no interactive consent step (local filesystem, a
	// pre-provisioned WebDAV/S3 credential) use whatever token the hints
	// already encode.
	return saveLoggedInAccount(ctx, flagProvider, backend.Token(), hints, logger)
}

func saveLoggedInAccount(ctx context.Context, providerName string, tok provider.Token, hints provider.Hints, logger *slog.Logger) error {
	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	cfgPath := config.ResolveConfigPath(env, cli, logger)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	name := flagAccount
	if name == "" {
		name = providerName
	}

	if cfg.Accounts == nil {
		cfg.Accounts = make(map[string]config.Account)
	}

	cfg.Accounts[name] = config.Account{
		Provider:     providerName,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		Hints:        hints,
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	tokens, err := tokenstore.Open(config.TokenStorePath(), logger)
	if err != nil {
		return fmt.Errorf("opening token store: %w", err)
	}
	defer tokens.Close()

	key := tokenstore.AccountKey{Provider: providerName, Account: name}
	if err := tokens.Put(ctx, key, tok, hints); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}

	statusf("logged in as %q (%s)\n", name, providerName)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(nil)

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath, Account: flagAccount}
	cfgPath := config.ResolveConfigPath(env, cli, logger)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolved, err := config.ResolveAccount(cfg, flagAccount)
	if err != nil {
		return err
	}

	delete(cfg.Accounts, resolved.Name)

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	tokens, err := tokenstore.Open(config.TokenStorePath(), logger)
	if err != nil {
		return fmt.Errorf("opening token store: %w", err)
	}
	defer tokens.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	key := tokenstore.AccountKey{Provider: resolved.ProviderName(), Account: resolved.Name}
	if err := tokens.Delete(ctx, key); err != nil {
		return fmt.Errorf("removing persisted token: %w", err)
	}

	statusf("logged out %q\n", resolved.Name)

	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	backend, err := newProviderBackend(cc)
	if err != nil {
		return fmt.Errorf("constructing provider: %w", err)
	}

	info, err := backend.GeneralData().Wait()
	if err != nil {
		return fmt.Errorf("fetching account identity: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(map[string]any{
			"account":  cc.Account.Name,
			"provider": cc.Account.ProviderName(),
			"username": info.Username,
		})
	}

	fmt.Printf("account:  %s\n", cc.Account.Name)
	fmt.Printf("provider: %s\n", cc.Account.ProviderName())
	fmt.Printf("username: %s\n", info.Username)

	return nil
}

func runQuota(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	backend, err := newProviderBackend(cc)
	if err != nil {
		return fmt.Errorf("constructing provider: %w", err)
	}

	info, err := backend.GeneralData().Wait()
	if err != nil {
		return fmt.Errorf("fetching quota: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(map[string]any{
			"space_used":  info.SpaceUsed,
			"space_total": info.SpaceTotal,
		})
	}

	headers := []string{"USED", "TOTAL"}
	rows := [][]string{{formatSize(info.SpaceUsed), formatSize(info.SpaceTotal)}}
	printTable(os.Stdout, headers, rows)

	return nil
}
