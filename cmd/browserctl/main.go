package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tomyan/browserctl/internal/chrome/launcher"
	"github.com/tomyan/browserctl/internal/lifecycle"
	"github.com/tomyan/browserctl/internal/portreg"
	"github.com/tomyan/browserctl/internal/profile"
	"github.com/tomyan/browserctl/internal/retry"
)

// Exit codes
const (
	ExitSuccess    = 0
	ExitError      = 1
	ExitNotRunning = 2
	ExitTimeout    = 3
)

// Config holds the CLI configuration.
type Config struct {
	Output     string // text, json
	Verbose    bool
	ConfigFile string

	ChromeDir    string // Profile root
	ChromeBin    string
	CacheDir     string
	BasePort     int // First port auto-port mode tries, 0 for the default
	PortAttempts int
	ReadyPolicy  retry.Policy
	ClosePolicy  retry.Policy

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Home   string
	GOOS   string
	Getenv func(string) string

	// Spawner overrides the detached process launcher for testing.
	Spawner launcher.Spawner
	// FindExecutable overrides browser discovery for testing.
	FindExecutable func(explicit string) (string, error)
	// Interactive overrides terminal detection for profile prompts.
	Interactive *bool

	logger *zap.Logger
}

// DefaultConfig returns the built-in defaults. The config file and
// environment are applied later in the chain.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Output:       "text",
		PortAttempts: lifecycle.DefaultPortAttempts,
		ReadyPolicy:  lifecycle.DefaultReadyPolicy,
		ClosePolicy:  lifecycle.DefaultClosePolicy,
		Stdin:        os.Stdin,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Home:         home,
		GOOS:         runtime.GOOS,
		Getenv:       os.Getenv,
	}
}

func main() {
	cfg := DefaultConfig()
	os.Exit(run(os.Args[1:], cfg))
}

// commandError carries a failure out of a command together with its exit
// code. Errors that are not commandErrors are usage errors.
type commandError struct {
	err   error
	code  int
	hints []string
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error  { return e.err }

// fail classifies err for the exit code and the hint printed after it.
func fail(err error) error {
	ce := &commandError{err: err, code: ExitError}
	switch {
	case errors.Is(err, lifecycle.ErrNotRunning):
		ce.code = ExitNotRunning
		ce.hints = []string{"Run: browserctl start"}
	case errors.Is(err, lifecycle.ErrLaunchTimeout), errors.Is(err, lifecycle.ErrTeardownTimeout):
		ce.code = ExitTimeout
	case errors.Is(err, launcher.ErrExecutableNotFound):
		ce.hints = []string{"Install chromium or set CHROME_BIN."}
	case errors.Is(err, profile.ErrAmbiguousProfile):
		ce.hints = []string{profile.DisambiguationHint}
	}
	return ce
}

func run(args []string, cfg *Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(cfg)
	root.SetArgs(args)
	root.SetIn(cfg.Stdin)
	root.SetOut(cfg.Stdout)
	root.SetErr(cfg.Stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if cfg.logger != nil {
		cfg.logger.Sync()
	}
	if err == nil {
		return ExitSuccess
	}

	var ce *commandError
	if errors.As(err, &ce) {
		newPrinter(cfg).failure(ce.err, ce.hints...)
		return ce.code
	}

	fmt.Fprintf(cfg.Stderr, "error: %v\n", err)
	if cmd != nil {
		fmt.Fprint(cfg.Stderr, cmd.UsageString())
	}
	return ExitError
}

func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "browserctl",
		Short:         "Start, restart and stop a remotely debuggable Chrome",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Output != "text" && cfg.Output != "json" {
				return fmt.Errorf("unknown output format: %s", cfg.Output)
			}
			cfg.logger = newLogger(cfg.Stderr, cfg.Verbose)
			loadConfigFile(cfg)
			applyEnvVars(cfg)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Output, "output", cfg.Output, "Output format: text, json")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Log debug detail to stderr")
	flags.StringVar(&cfg.ConfigFile, "config", "", "Config file (env: BROWSERCTL_CONFIG)")

	root.AddCommand(
		newStartCmd(cfg),
		newStopCmd(cfg),
		newProfilesCmd(cfg),
		newPortCmd(cfg),
	)
	return root
}

// newLogger builds the console logger on w: warnings by default, debug
// detail when verbose.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core)
}

func (cfg *Config) cacheRoot() string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	return filepath.Join(cfg.Home, ".cache")
}

func (cfg *Config) registry() *portreg.File {
	return portreg.NewFile(portreg.DefaultPath(cfg.cacheRoot()), cfg.logger)
}

func (cfg *Config) profileStore() *profile.Store {
	root := cfg.ChromeDir
	if root == "" {
		root = profile.DefaultRoot(cfg.GOOS, cfg.Home, func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		})
	}
	return profile.NewStore(root, cfg.logger)
}

func (cfg *Config) manager() *lifecycle.Manager {
	return &lifecycle.Manager{
		Registry:       cfg.registry(),
		Spawner:        cfg.Spawner,
		Profiles:       cfg.profileStore(),
		Prompter:       newTerminalPrompter(cfg),
		Reporter:       newPrinter(cfg),
		Logger:         cfg.logger,
		ChromeBin:      cfg.ChromeBin,
		FindExecutable: cfg.FindExecutable,
		NoSandbox:      launcher.NeedsNoSandbox(cfg.GOOS, launcher.EffectiveUID()),
		BasePort:       cfg.BasePort,
		PortAttempts:   cfg.PortAttempts,
		ReadyPolicy:    cfg.ReadyPolicy,
		ClosePolicy:    cfg.ClosePolicy,
	}
}
