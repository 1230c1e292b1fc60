package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/quietloop/vaultsync/internal/cloudapi"
	"github.com/quietloop/vaultsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagRoot       string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading
// themselves (login, config init) and must not fail when no config file
// exists yet.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved config and logger, created once in
// PersistentPreRunE.
type CLIContext struct {
	Cfg        config.Config
	ConfigPath string
	Logger     *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cc
}

// mustCLIContext extracts the CLIContext or panics. Panics are always
// programmer errors: the command tree guarantees PersistentPreRunE
// populated the context for any command without skipConfigAnnotation.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context; command skipped config loading")
	}
	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vaultsync",
		Short:   "Bidirectional encrypted file sync",
		Long:    "vaultsync keeps a local document tree in convergent agreement with a remote vault, with three-way merge conflict resolution and optional end-to-end encryption.",
		Version: version,
		// Silence Cobra's default error/usage printing; handled in main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagRoot, "root", "", "local vault root directory")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVaultCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConflictsCmd())

	return cmd
}

func loadConfig(cmd *cobra.Command) error {
	cfg, path, err := config.Load(config.LoadOptions{
		ConfigPath: flagConfigPath,
		RootFlag:   flagRoot,
	})
	if err != nil {
		return err
	}

	cc := &CLIContext{Cfg: cfg, ConfigPath: path, Logger: buildLogger(cfg)}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))
	return nil
}

// buildLogger creates the slog.Logger: config log level as the baseline,
// CLI flags override it.
func buildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelWarn
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
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

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// statusf prints human-facing progress to stdout, suppressed under
// --quiet or --json so machine output stays clean.
func statusf(format string, args ...any) {
	if flagQuiet || flagJSON {
		return
	}
	fmt.Printf(format, args...)
}

// httpClientTimeout bounds metadata requests; transfers are bounded by
// context cancellation instead.
const httpClientTimeout = 30 * time.Second

func tokenPath() string {
	return filepath.Join(config.DefaultDataDir(), "token.json")
}

// newAdapter builds the authenticated remote vault adapter from the
// resolved config and the persisted OAuth2 token.
func newAdapter(ctx context.Context, cc *CLIContext) (*cloudapi.RESTAdapter, error) {
	if cc.Cfg.Remote == "" {
		return nil, fmt.Errorf("no remote configured; set 'remote' in %s", cc.ConfigPath)
	}

	ts, err := cloudapi.TokenSourceFromPath(ctx, authConfigFromEnv(), tokenPath(), cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("not logged in (run 'vaultsync login'): %w", err)
	}

	timeout := cc.Cfg.Network.RequestTimeout
	if timeout == 0 {
		timeout = httpClientTimeout
	}
	client := cloudapi.NewClient(cc.Cfg.Remote, &http.Client{Timeout: timeout}, ts, cc.Logger)
	return cloudapi.NewRESTAdapter(client), nil
}

// readLine reads one line from stdin, prompting only when stdin is a
// terminal (so piped input works for scripting).
func readLine(prompt string) (string, error) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprint(os.Stderr, prompt)
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// checkPasswordPolicy enforces the input-side password policy: printable
// ASCII only, minimum 8 characters. The E2EE engine itself accepts any
// byte string; the policy lives here at the input boundary.
func checkPasswordPolicy(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	for _, r := range password {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("password must contain only printable ASCII characters")
		}
	}
	return nil
}
