// Package lifecycle decides whether to start, restart or leave alone a
// remotely debuggable browser on a port, and carries the decision out:
// port selection, profile materialization, detached launch, readiness
// polling and tab restoration.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tomyan/browserctl/internal/chrome"
	"github.com/tomyan/browserctl/internal/chrome/launcher"
	"github.com/tomyan/browserctl/internal/portreg"
	"github.com/tomyan/browserctl/internal/profile"
	"github.com/tomyan/browserctl/internal/retry"
	"github.com/tomyan/browserctl/internal/tabs"
)

// Lifecycle errors
var (
	ErrLaunchTimeout   = errors.New("failed to connect to Chrome")
	ErrTeardownTimeout = errors.New("browser did not shut down")
	ErrNotRunning      = errors.New("could not connect to browser")
)

// Outcome says what Start did.
type Outcome string

const (
	OutcomeStarted        Outcome = "started"
	OutcomeRestarted      Outcome = "restarted"
	OutcomeAlreadyRunning Outcome = "already-running"
)

// DefaultPortAttempts is how many ports past the base auto-port mode tries.
const DefaultPortAttempts = 20

var (
	// DefaultReadyPolicy bounds the wait for a launched browser to answer.
	DefaultReadyPolicy = retry.Policy{Attempts: 30, Interval: 500 * time.Millisecond}
	// DefaultClosePolicy bounds the wait for a closed browser to go away.
	DefaultClosePolicy = retry.Policy{Attempts: 20, Interval: 250 * time.Millisecond}
)

// Options is the session configuration for one Start call.
type Options struct {
	Port       int
	PortPinned bool // Port was given explicitly
	AutoPort   bool // Pick a free port unless restarting

	// WorkingDir is the user-data root handed to the browser. When empty it
	// is derived from CacheRoot and the selected port.
	WorkingDir string
	CacheRoot  string

	Profile     profile.Request
	Headless    bool
	StartURL    string
	Restart     bool
	RestoreTabs bool
}

// Result describes a finished Start.
type Result struct {
	Port       int      `json:"port"`
	Outcome    Outcome  `json:"outcome"`
	WorkingDir string   `json:"workingDir,omitempty"`
	Profile    string   `json:"profile,omitempty"`
	Headless   bool     `json:"headless"`
	Restored   int      `json:"restored"`
	Opened     string   `json:"opened,omitempty"`
	Args       []string `json:"args,omitempty"`
}

// WorkingDir returns the isolated user-data directory for port under
// cacheRoot. The default port gets the plain name so existing setups keep
// their directory.
func WorkingDir(cacheRoot string, port int) string {
	if port == portreg.DefaultPort {
		return filepath.Join(cacheRoot, "browserctl")
	}
	return filepath.Join(cacheRoot, "browserctl-"+strconv.Itoa(port))
}

// Manager runs the browser lifecycle. Zero-valued fields fall back to the
// production defaults.
type Manager struct {
	Registry portreg.Registry
	Prober   launcher.Prober
	Spawner  launcher.Spawner
	Profiles *profile.Store
	Prompter profile.Prompter
	Reporter Reporter
	Logger   *zap.Logger

	// ChromeBin is an explicit executable path; empty means discover.
	ChromeBin      string
	FindExecutable func(explicit string) (string, error)
	// Sync mirrors a profile root into a working directory.
	Sync func(ctx context.Context, src, dst string) error

	NoSandbox    bool
	BasePort     int // First port auto-port mode tries
	PortAttempts int
	ReadyPolicy  retry.Policy
	ClosePolicy  retry.Policy
}

func (m *Manager) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func (m *Manager) registry() portreg.Registry {
	if m.Registry == nil {
		m.Registry = portreg.NewMemory(portreg.DefaultPort)
	}
	return m.Registry
}

func (m *Manager) readyPolicy() retry.Policy {
	if m.ReadyPolicy.Attempts == 0 {
		return DefaultReadyPolicy
	}
	return m.ReadyPolicy
}

func (m *Manager) closePolicy() retry.Policy {
	if m.ClosePolicy.Attempts == 0 {
		return DefaultClosePolicy
	}
	return m.ClosePolicy
}

func (m *Manager) note(kind NoteKind, format string, args ...interface{}) {
	if m.Reporter == nil {
		return
	}
	m.Reporter.Report(Note{Kind: kind, Text: fmt.Sprintf(format, args...)})
}

// Start brings a browser up on the selected port. It is a no-op when one
// already answers there and no restart was asked for; with Restart the
// running browser is closed, optionally after capturing its tabs, and a new
// one is launched and given the captured tabs back.
func (m *Manager) Start(ctx context.Context, opts Options) (*Result, error) {
	logger := m.logger()

	port, err := m.selectPort(ctx, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("probing for a running browser", zap.Int("port", port))

	res := &Result{Port: port, Headless: opts.Headless}

	client, err := m.Prober.Connect(ctx, port)
	running := err == nil
	if running && !opts.Restart {
		defer client.Close()
		return m.alreadyRunning(ctx, client, opts, res)
	}

	// Everything that can fail on bad input is settled before a running
	// browser is touched.
	entry, err := m.resolveProfile(opts.Profile)
	if err != nil {
		closeClient(client)
		return nil, err
	}
	binary, err := m.findExecutable()
	if err != nil {
		closeClient(client)
		return nil, err
	}
	res.Outcome = OutcomeStarted
	if opts.Profile.Wanted() {
		res.Profile = entry.Label()
	}

	var restoreURLs []string
	if running {
		restoreURLs, err = m.teardown(ctx, client, port, opts.RestoreTabs)
		if err != nil {
			return nil, err
		}
		res.Outcome = OutcomeRestarted
	}

	res.WorkingDir = opts.WorkingDir
	if res.WorkingDir == "" {
		res.WorkingDir = WorkingDir(opts.CacheRoot, port)
	}
	if err := m.prepareWorkingDir(ctx, res.WorkingDir, opts.Profile, entry); err != nil {
		return nil, err
	}

	spec := launcher.LaunchSpec{
		Port:        port,
		UserDataDir: res.WorkingDir,
		ProfileDir:  entry.Dir,
		Headless:    opts.Headless,
		NoSandbox:   m.NoSandbox,
	}
	if len(restoreURLs) == 0 {
		spec.StartURL = opts.StartURL
	}
	logger.Debug("launching browser", zap.String("binary", binary), zap.Int("port", port))
	res.Args, err = launcher.Launch(m.Spawner, binary, spec)
	if err != nil {
		return nil, err
	}

	if err := m.Prober.WaitReachable(ctx, port, m.readyPolicy()); err != nil {
		return nil, waitError(ErrLaunchTimeout, port, m.readyPolicy(), err)
	}
	m.registry().Save(port)

	if len(restoreURLs) > 0 || opts.StartURL != "" {
		if err := m.openTabs(ctx, port, restoreURLs, opts.StartURL, res); err != nil {
			return nil, err
		}
	}

	m.note(NoteSuccess, "%s", startedLine(res, opts.Profile.Wanted()))
	return res, nil
}

func (m *Manager) alreadyRunning(ctx context.Context, client *chrome.Client, opts Options, res *Result) (*Result, error) {
	res.Outcome = OutcomeAlreadyRunning
	if opts.StartURL != "" {
		if _, err := tabs.Open(ctx, client, []string{opts.StartURL}, tabs.OpenOptions{Required: true, Logger: m.logger()}); err != nil {
			return nil, err
		}
		res.Opened = opts.StartURL
		m.note(NoteSuccess, "Opened: %s", opts.StartURL)
	}
	m.registry().Save(res.Port)
	m.note(NoteSuccess, "Chrome already running on :%d", res.Port)
	return res, nil
}

// selectPort picks the port: pinned as given, auto-port reuses the last
// port while a browser answers there and otherwise finds a free one, and
// everything else uses the last-used port.
func (m *Manager) selectPort(ctx context.Context, opts Options) (int, error) {
	if opts.PortPinned {
		return opts.Port, nil
	}
	last := m.registry().Load()
	if !opts.AutoPort || opts.Restart {
		return last, nil
	}
	if m.Prober.TryConnect(ctx, last) {
		return last, nil
	}

	base := m.BasePort
	if base == 0 {
		base = portreg.DefaultPort
	}
	attempts := m.PortAttempts
	if attempts == 0 {
		attempts = DefaultPortAttempts
	}
	port, err := launcher.FindFreePort(ctx, m.Prober.Hostname(), base, attempts)
	if err != nil {
		return 0, err
	}
	m.logger().Debug("allocated port", zap.Int("port", port))
	return port, nil
}

func (m *Manager) resolveProfile(req profile.Request) (profile.Entry, error) {
	if !req.Wanted() {
		return profile.Entry{}, nil
	}
	if m.Profiles == nil {
		return profile.Entry{}, errors.New("no profile root configured")
	}
	return profile.Resolve(req, m.Profiles.List(), m.Profiles.LastUsedDir(), m.Prompter)
}

func (m *Manager) findExecutable() (string, error) {
	find := m.FindExecutable
	if find == nil {
		find = launcher.FindExecutable
	}
	return find(m.ChromeBin)
}

// teardown captures the restorable tabs when asked to, closes the browser and
// waits for it to stop answering. A failed capture only loses the tabs.
func (m *Manager) teardown(ctx context.Context, client *chrome.Client, port int, capture bool) ([]string, error) {
	defer client.Close()
	logger := m.logger()

	var urls []string
	if capture {
		captured, err := tabs.Capture(ctx, client)
		if err != nil {
			logger.Warn("could not read open tabs", zap.Error(err))
		}
		urls = captured
		logger.Debug("captured tabs", zap.Strings("urls", urls))
	}

	m.note(NoteRestart, "Restarting Chrome on :%d", port)
	if err := client.CloseBrowser(ctx); err != nil {
		return nil, fmt.Errorf("closing browser on :%d: %w", port, err)
	}
	if err := m.Prober.WaitUnreachable(ctx, port, m.closePolicy()); err != nil {
		return nil, waitError(ErrTeardownTimeout, port, m.closePolicy(), err)
	}
	return urls, nil
}

func (m *Manager) prepareWorkingDir(ctx context.Context, dir string, req profile.Request, entry profile.Entry) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating working directory: %w", err)
	}
	launcher.RemoveSingletonArtifacts(dir, m.logger())

	if !req.Wanted() {
		return nil
	}
	if label := entry.Label(); label != "" {
		m.note(NoteProgress, "Syncing profile (%s)...", label)
	} else {
		m.note(NoteProgress, "Syncing profile...")
	}
	return m.sync(ctx, m.Profiles.Root, dir)
}

func (m *Manager) sync(ctx context.Context, src, dst string) error {
	if m.Sync != nil {
		return m.Sync(ctx, src, dst)
	}
	stats, err := profile.Syncer{Logger: m.logger()}.Sync(ctx, src, dst)
	if err != nil {
		return err
	}
	m.logger().Debug("profile synced",
		zap.Int("copied", stats.Copied),
		zap.Int("linked", stats.Linked),
		zap.Int("deleted", stats.Deleted),
		zap.Int("skipped", stats.Skipped))
	return nil
}

// openTabs reopens the captured tabs and then the start URL. A start URL
// that was itself captured is only brought to the front.
func (m *Manager) openTabs(ctx context.Context, port int, restoreURLs []string, startURL string, res *Result) error {
	logger := m.logger()

	client, err := m.Prober.Connect(ctx, port)
	if err != nil {
		if startURL != "" {
			return fmt.Errorf("%w %s: %w", tabs.ErrStartURLOpenFailed, startURL, err)
		}
		logger.Warn("could not reconnect to restore tabs", zap.Error(err))
		return nil
	}
	defer client.Close()

	if len(restoreURLs) > 0 {
		n, err := tabs.Open(ctx, client, restoreURLs, tabs.OpenOptions{Logger: logger})
		if err != nil {
			logger.Warn("could not restore tabs", zap.Error(err))
		}
		res.Restored = n
		if n > 0 {
			m.note(NoteSuccess, "Restored %d %s", n, plural(n, "tab", "tabs"))
		}
	}

	if startURL == "" {
		return nil
	}
	if containsURL(restoreURLs, startURL) {
		if _, err := tabs.Focus(ctx, client, startURL); err != nil {
			logger.Warn("could not bring tab to front", zap.String("url", startURL), zap.Error(err))
		}
		return nil
	}

	n, err := tabs.Open(ctx, client, []string{startURL}, tabs.OpenOptions{
		Required:       true,
		AlwaysNewTab:   len(restoreURLs) > 0,
		PreferExisting: true,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	if n > 0 {
		res.Opened = startURL
		m.note(NoteSuccess, "Opened: %s", startURL)
	}
	return nil
}

// Stop closes the browser answering on port and waits for the port to be
// released.
func (m *Manager) Stop(ctx context.Context, port int) error {
	client, err := m.Prober.Connect(ctx, port)
	if err != nil {
		m.logger().Debug("stop: handshake failed", zap.Int("port", port), zap.Error(err))
		return fmt.Errorf("%w on :%d", ErrNotRunning, port)
	}
	err = client.CloseBrowser(ctx)
	client.Close()
	if err != nil {
		return fmt.Errorf("closing browser on :%d: %w", port, err)
	}

	if err := m.Prober.WaitPortClosed(ctx, port, m.closePolicy()); err != nil {
		return waitError(ErrTeardownTimeout, port, m.closePolicy(), err)
	}
	m.note(NoteSuccess, "Chrome stopped on :%d", port)
	return nil
}

func waitError(sentinel error, port int, policy retry.Policy, err error) error {
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w on :%d after %s", sentinel, port, policy)
	}
	return err
}

func closeClient(c *chrome.Client) {
	if c != nil {
		c.Close()
	}
}

func containsURL(urls []string, url string) bool {
	for _, u := range urls {
		if tabs.SameURL(u, url) {
			return true
		}
	}
	return false
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func startedLine(res *Result, withProfile bool) string {
	line := fmt.Sprintf("Chrome started on :%d", res.Port)
	if withProfile {
		label := res.Profile
		if label == "" {
			label = profile.DefaultDir
		}
		line += " with profile " + label
	}
	if res.Headless {
		line += " (headless)"
	}
	return line
}
