package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tomyan/browserctl/internal/chrome/launcher"
	"github.com/tomyan/browserctl/internal/lifecycle"
	"github.com/tomyan/browserctl/internal/portreg"
	"github.com/tomyan/browserctl/internal/profile"
)

// bareProfile is the value --profile takes when given without one.
const bareProfile = "(default)"

// countedFlag is a non-empty string flag that remembers how often it was
// given.
type countedFlag struct {
	value string
	count int
	typ   string
}

var _ pflag.Value = (*countedFlag)(nil)

func (f *countedFlag) String() string {
	if f.value == bareProfile {
		return ""
	}
	return f.value
}

func (f *countedFlag) Set(v string) error {
	if v == "" {
		return errors.New("value must not be empty")
	}
	f.count++
	f.value = v
	return nil
}

func (f *countedFlag) Type() string { return f.typ }

type startFlags struct {
	profile       countedFlag
	lastUsed      bool
	url           countedFlag
	port          string
	autoPort      bool
	dataDir       string
	headless      bool
	headed        bool
	noHeadless    bool
	restart       bool
	restoreTabs   bool
	noRestoreTabs bool
}

func newStartCmd(cfg *Config) *cobra.Command {
	sf := startFlags{
		profile: countedFlag{typ: "name"},
		url:     countedFlag{typ: "url"},
	}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start Chrome with remote debugging, or reuse the one already running",
		Example: `  browserctl start --profile
  browserctl start --profile Work --url https://example.com
  browserctl start --auto-port --headless
  browserctl start --restart`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || bareProfileName(&sf, args) != "" {
				return nil
			}
			return fmt.Errorf("unexpected argument %q", args[0])
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := startOptions(cmd, cfg, &sf, args)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("headless") && !sf.headed && !sf.noHeadless && opts.Headless {
				newPrinter(cfg).Report(lifecycle.Note{
					Kind: lifecycle.NoteInfo,
					Text: "No DISPLAY found; defaulting to --headless. Use --headed to override.",
				})
			}

			res, err := cfg.manager().Start(cmd.Context(), opts)
			if err != nil {
				return fail(err)
			}
			return newPrinter(cfg).result(res)
		},
	}

	flags := cmd.Flags()
	flags.Var(&sf.profile, "profile", `Copy a Chrome profile: bare for the default one, or "Name", "Name (Profile 2)", "Profile 2"`)
	flags.Lookup("profile").NoOptDefVal = bareProfile
	flags.BoolVar(&sf.lastUsed, "profile-last-used", false, "Copy the most recently used Chrome profile")
	flags.Var(&sf.url, "url", "Open this URL once Chrome is up")
	flags.StringVar(&sf.port, "port", "", "Remote debugging port (default: a free port from 9222)")
	flags.BoolVar(&sf.autoPort, "auto-port", false, "Pick a free port starting at 9222 (default)")
	flags.StringVar(&sf.dataDir, "data-dir", "", "Chrome user data directory (default: ~/.cache/browserctl[-PORT])")
	flags.BoolVar(&sf.headless, "headless", false, "Run without a window")
	flags.BoolVar(&sf.headed, "headed", false, "Run with a window even without a display")
	flags.BoolVar(&sf.noHeadless, "no-headless", false, "Same as --headed")
	flags.BoolVar(&sf.restart, "restart", false, "Restart Chrome if it is already running on the port")
	flags.BoolVar(&sf.restoreTabs, "restore-tabs", false, "Reopen the open tabs after a restart (default)")
	flags.BoolVar(&sf.noRestoreTabs, "no-restore-tabs", false, "Do not reopen tabs after a restart")

	cmd.MarkFlagsMutuallyExclusive("profile", "profile-last-used")
	cmd.MarkFlagsMutuallyExclusive("headless", "headed")
	cmd.MarkFlagsMutuallyExclusive("headless", "no-headless")
	cmd.MarkFlagsMutuallyExclusive("port", "auto-port")
	cmd.MarkFlagsMutuallyExclusive("restore-tabs", "no-restore-tabs")

	return cmd
}

// bareProfileName returns the profile name given as "--profile Work": a
// bare --profile followed by a single non-flag argument.
func bareProfileName(sf *startFlags, args []string) string {
	if sf.profile.count != 1 || sf.profile.value != bareProfile || len(args) != 1 {
		return ""
	}
	if strings.HasPrefix(args[0], "-") {
		return ""
	}
	return args[0]
}

// startOptions turns the parsed flags into lifecycle options. Errors are
// usage errors.
func startOptions(cmd *cobra.Command, cfg *Config, sf *startFlags, args []string) (lifecycle.Options, error) {
	opts := lifecycle.Options{
		AutoPort:    true,
		CacheRoot:   cfg.cacheRoot(),
		StartURL:    sf.url.value,
		Restart:     sf.restart,
		RestoreTabs: !sf.noRestoreTabs,
	}

	if sf.profile.count > 1 {
		return opts, errors.New("--profile given more than once")
	}
	if sf.url.count > 1 {
		return opts, errors.New("--url given more than once")
	}
	switch {
	case sf.lastUsed:
		opts.Profile = profile.Request{Mode: profile.ModeLastUsed}
	case sf.profile.count == 1 && sf.profile.value == bareProfile:
		if name := bareProfileName(sf, args); name != "" {
			opts.Profile = profile.Request{Mode: profile.ModeNamed, Name: name}
		} else {
			opts.Profile = profile.Request{Mode: profile.ModeDefault}
		}
	case sf.profile.count == 1:
		opts.Profile = profile.Request{Mode: profile.ModeNamed, Name: sf.profile.value}
	}

	if cmd.Flags().Changed("port") {
		port, err := portreg.Parse(sf.port)
		if err != nil {
			return opts, err
		}
		opts.Port = port
		opts.PortPinned = true
	}

	if sf.dataDir != "" {
		dir, err := filepath.Abs(expandHome(sf.dataDir, cfg.Home))
		if err != nil {
			return opts, fmt.Errorf("--data-dir: %w", err)
		}
		opts.WorkingDir = dir
	}

	switch {
	case sf.headless:
		opts.Headless = true
	case sf.headed, sf.noHeadless:
		opts.Headless = false
	default:
		opts.Headless = !launcher.HasDisplay(cfg.GOOS, cfg.Getenv)
	}

	return opts, nil
}
