package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyan/browserctl/internal/lifecycle"
	"github.com/tomyan/browserctl/internal/portreg"
	"github.com/tomyan/browserctl/internal/retry"
	"github.com/tomyan/browserctl/internal/testutil"
)

var fastPolicy = retry.Policy{Attempts: 40, Interval: 25 * time.Millisecond}

func releasedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type harness struct {
	cfg     *Config
	spawner *testutil.FakeSpawner
	env     map[string]string
	bins    []string
}

// newHarness returns a config wired to fakes: a spawner that brings up fake
// browsers, a temporary home and cache, and a display so nothing defaults
// to headless.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		spawner: testutil.NewFakeSpawner(t),
		env:     map[string]string{"DISPLAY": ":0"},
	}
	notInteractive := false
	home := t.TempDir()
	h.cfg = &Config{
		Output:       "text",
		BasePort:     releasedPort(t),
		PortAttempts: lifecycle.DefaultPortAttempts,
		ReadyPolicy:  fastPolicy,
		ClosePolicy:  fastPolicy,
		Stdin:        strings.NewReader(""),
		Stdout:       &bytes.Buffer{},
		Stderr:       &bytes.Buffer{},
		Home:         home,
		CacheDir:     filepath.Join(home, ".cache"),
		GOOS:         "linux",
		Getenv:       func(k string) string { return h.env[k] },
		Spawner:      h.spawner,
		FindExecutable: func(explicit string) (string, error) {
			h.bins = append(h.bins, explicit)
			return "fake-chrome", nil
		},
		Interactive: &notInteractive,
	}
	return h
}

func (h *harness) run(args ...string) int {
	h.cfg.Stdout.(*bytes.Buffer).Reset()
	h.cfg.Stderr.(*bytes.Buffer).Reset()
	return run(args, h.cfg)
}

func (h *harness) stdout() string { return h.cfg.Stdout.(*bytes.Buffer).String() }
func (h *harness) stderr() string { return h.cfg.Stderr.(*bytes.Buffer).String() }

// withProfiles points CHROME_DIR at a profile root holding Default, two
// profiles named "Work" and one named "Side".
func (h *harness) withProfiles(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	for dir, name := range map[string]string{"Default": "Personal", "Profile 1": "Work", "Profile 2": "Work", "Profile 3": "Side"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
		prefs := fmt.Sprintf(`{"profile":{"name":%q}}`, name)
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "Preferences"), []byte(prefs), 0644))
	}
	h.env["CHROME_DIR"] = root
	return root
}

func TestStart_Fresh(t *testing.T) {
	t.Parallel()

	// Given
	h := newHarness(t)
	port := releasedPort(t)

	// When
	code := h.run("start", "--port", strconv.Itoa(port))

	// Then
	require.Equal(t, ExitSuccess, code, h.stderr())
	assert.Contains(t, h.stdout(), fmt.Sprintf("Chrome started on :%d", port))

	data, err := os.ReadFile(portreg.DefaultPath(h.cfg.CacheDir))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(port), strings.TrimSpace(string(data)))

	launch := h.spawner.Launches()[0]
	assert.Contains(t, launch, "--user-data-dir="+filepath.Join(h.cfg.CacheDir, "browserctl-"+strconv.Itoa(port)))
	assert.NotContains(t, launch, "--headless=new")
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	port := strconv.Itoa(releasedPort(t))
	require.Equal(t, ExitSuccess, h.run("start", "--port", port), h.stderr())

	code := h.run("start", "--port", port)

	require.Equal(t, ExitSuccess, code, h.stderr())
	assert.Contains(t, h.stdout(), "Chrome already running on :"+port)
	assert.Len(t, h.spawner.Launches(), 1)
}

func TestStart_JSONOutput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	port := releasedPort(t)

	code := h.run("--output", "json", "start", "--port", strconv.Itoa(port), "--url", "https://example.com/")

	require.Equal(t, ExitSuccess, code, h.stderr())
	var res lifecycle.Result
	require.NoError(t, json.Unmarshal([]byte(h.stdout()), &res))
	assert.Equal(t, port, res.Port)
	assert.Equal(t, lifecycle.OutcomeStarted, res.Outcome)
	assert.Equal(t, "https://example.com/", res.Opened)
}

func TestStart_AutoPort(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code := h.run("start", "--auto-port")

	require.Equal(t, ExitSuccess, code, h.stderr())
	data, err := os.ReadFile(portreg.DefaultPath(h.cfg.CacheDir))
	require.NoError(t, err)
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, h.cfg.BasePort)
}

func TestStart_AmbiguousProfileNonInteractive(t *testing.T) {
	t.Parallel()

	// Given two profiles named "Work" and no terminal
	h := newHarness(t)
	h.withProfiles(t)

	// When
	code := h.run("start", "--port", strconv.Itoa(releasedPort(t)), "--profile", "Work")

	// Then
	assert.Equal(t, ExitError, code)
	assert.Contains(t, h.stderr(), "Work (Profile 1)")
	assert.Contains(t, h.stderr(), "Work (Profile 2)")
	assert.Contains(t, h.stderr(), `--profile "Name (Profile X)"`)
	assert.Empty(t, h.spawner.Launches())
}

func TestStart_AmbiguousProfileInteractive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.withProfiles(t)
	interactive := true
	h.cfg.Interactive = &interactive
	h.cfg.Stdin = strings.NewReader("2\n")

	code := h.run("start", "--port", strconv.Itoa(releasedPort(t)), "--profile=Work")

	require.Equal(t, ExitSuccess, code, h.stderr())
	assert.Contains(t, h.stderr(), `Multiple profiles named "Work".`)
	assert.Contains(t, h.spawner.Launches()[0], "--profile-directory=Profile 2")
	assert.Contains(t, h.stdout(), "Syncing profile (Work (Profile 2))...")
}

func TestStart_ProfileForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantDir string
	}{
		{"bare flag", []string{"--profile"}, "Default"},
		{"space separated", []string{"--profile", "Side"}, "Profile 3"},
		{"equals", []string{"--profile=Side"}, "Profile 3"},
		{"descriptor", []string{"--profile", "Work (Profile 1)"}, "Profile 1"},
		{"directory", []string{"--profile=Profile 2"}, "Profile 2"},
		{"last used", []string{"--profile-last-used"}, "Default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.withProfiles(t)

			args := append([]string{"start", "--port", strconv.Itoa(releasedPort(t))}, tt.args...)
			code := h.run(args...)

			require.Equal(t, ExitSuccess, code, h.stderr())
			assert.Contains(t, h.spawner.Launches()[0], "--profile-directory="+tt.wantDir)
		})
	}
}

func TestStart_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"headless and headed", []string{"--headless", "--headed"}},
		{"headless and no-headless", []string{"--headless", "--no-headless"}},
		{"port and auto-port", []string{"--port", "9300", "--auto-port"}},
		{"bad port", []string{"--port", "abc"}},
		{"zero port", []string{"--port", "0"}},
		{"port out of range", []string{"--port", "70000"}},
		{"repeated profile", []string{"--profile=A", "--profile=B"}},
		{"profile and last used", []string{"--profile", "--profile-last-used"}},
		{"empty profile", []string{"--profile="}},
		{"empty url", []string{"--url="}},
		{"repeated url", []string{"--url", "https://a.test/", "--url", "https://b.test/"}},
		{"restore conflict", []string{"--restore-tabs", "--no-restore-tabs"}},
		{"stray argument", []string{"stray"}},
		{"unknown flag", []string{"--bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)

			code := h.run(append([]string{"start"}, tt.args...)...)

			assert.Equal(t, ExitError, code)
			assert.Contains(t, h.stderr(), "Usage:")
			assert.Empty(t, h.spawner.Launches())
		})
	}
}

func TestStart_InfersHeadlessWithoutDisplay(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	delete(h.env, "DISPLAY")

	code := h.run("start", "--port", strconv.Itoa(releasedPort(t)))

	require.Equal(t, ExitSuccess, code, h.stderr())
	assert.Contains(t, h.stdout(), "No DISPLAY found; defaulting to --headless")
	assert.Contains(t, h.stdout(), "(headless)")
	assert.Contains(t, h.spawner.Launches()[0], "--headless=new")
}

func TestStart_HeadedOverridesInference(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	delete(h.env, "DISPLAY")

	code := h.run("start", "--port", strconv.Itoa(releasedPort(t)), "--headed")

	require.Equal(t, ExitSuccess, code, h.stderr())
	assert.NotContains(t, h.stdout(), "No DISPLAY found")
	assert.NotContains(t, h.spawner.Launches()[0], "--headless=new")
}

func TestStart_DataDir(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code := h.run("start", "--port", strconv.Itoa(releasedPort(t)), "--data-dir", "~/chrome-work")

	require.Equal(t, ExitSuccess, code, h.stderr())
	dir := filepath.Join(h.cfg.Home, "chrome-work")
	assert.Contains(t, h.spawner.Launches()[0], "--user-data-dir="+dir)
	assert.DirExists(t, dir)
}

func TestStart_RestartRestoresTabs(t *testing.T) {
	t.Parallel()

	// Given a browser with open tabs on the last-used port
	h := newHarness(t)
	b, err := testutil.StartFakeBrowser(releasedPort(t), "https://x.test/", "https://y.test/")
	require.NoError(t, err)
	t.Cleanup(b.Close)
	require.Equal(t, ExitSuccess, h.run("start", "--port", strconv.Itoa(b.Port)), h.stderr())

	// When
	code := h.run("start", "--restart")

	// Then
	require.Equal(t, ExitSuccess, code, h.stderr())
	assert.Contains(t, h.stdout(), fmt.Sprintf("Restarting Chrome on :%d", b.Port))
	assert.Contains(t, h.stdout(), "Restored 2 tabs")
	assert.Equal(t, []string{"https://x.test/", "https://y.test/"}, h.spawner.Latest().URLs())
}

func TestStart_LaunchTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.spawner.Silent = true
	h.cfg.ReadyPolicy = retry.Policy{Attempts: 2, Interval: 10 * time.Millisecond}

	code := h.run("start", "--port", strconv.Itoa(releasedPort(t)))

	assert.Equal(t, ExitTimeout, code)
	assert.Contains(t, h.stderr(), "failed to connect to Chrome")
}

func TestStart_ChromeBinFromEnv(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.env["CHROME_BIN"] = "/opt/chromium/chrome"

	require.Equal(t, ExitSuccess, h.run("start", "--port", strconv.Itoa(releasedPort(t))), h.stderr())
	assert.Equal(t, []string{"/opt/chromium/chrome"}, h.bins)
}

func TestConfigFile(t *testing.T) {
	t.Parallel()

	// Given a config file and an environment override
	h := newHarness(t)
	cache := t.TempDir()
	path := filepath.Join(h.cfg.Home, ".config", "browserctl", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
chrome_bin: /from/file
cache_dir: %s
ready_attempts: 7
ready_interval: 20ms
`, cache)), 0644))
	h.env["CHROME_BIN"] = "/from/env"
	h.cfg.CacheDir = ""

	// When
	code := h.run("port")

	// Then
	require.Equal(t, ExitSuccess, code, h.stderr())
	assert.Equal(t, "/from/env", h.cfg.ChromeBin)
	assert.Equal(t, cache, h.cfg.CacheDir)
	assert.Equal(t, retry.Policy{Attempts: 7, Interval: 20 * time.Millisecond}, h.cfg.ReadyPolicy)
}

func TestConfigFile_MalformedIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chrome_bin: [unclosed"), 0644))
	h.env["BROWSERCTL_CONFIG"] = path

	code := h.run("port")

	assert.Equal(t, ExitSuccess, code)
	assert.Empty(t, h.cfg.ChromeBin)
	assert.Contains(t, h.stderr(), "skipping malformed config file")
}

func TestStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	port := strconv.Itoa(releasedPort(t))
	require.Equal(t, ExitSuccess, h.run("start", "--port", port), h.stderr())

	code := h.run("stop")

	require.Equal(t, ExitSuccess, code, h.stderr())
	assert.Contains(t, h.stdout(), "Chrome stopped on :"+port)
}

func TestStop_NotRunning(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code := h.run("stop", "--port", strconv.Itoa(releasedPort(t)))

	assert.Equal(t, ExitNotRunning, code)
	assert.Contains(t, h.stderr(), "could not connect to browser")
	assert.Contains(t, h.stderr(), "Run: browserctl start")
}

func TestStop_TeardownTimeout(t *testing.T) {
	t.Parallel()

	// Given a browser that ignores the close request
	h := newHarness(t)
	h.cfg.ClosePolicy = retry.Policy{Attempts: 3, Interval: 20 * time.Millisecond}
	b, err := testutil.StartFakeBrowser(releasedPort(t))
	require.NoError(t, err)
	t.Cleanup(b.Close)
	b.IgnoreClose()

	// When
	code := h.run("stop", "--port", strconv.Itoa(b.Port))

	// Then
	assert.Equal(t, ExitTimeout, code)
	assert.Contains(t, h.stderr(), "browser did not shut down")
	assert.NotContains(t, h.stderr(), "Usage:")
}

func TestProfiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.withProfiles(t)

	code := h.run("profiles")

	require.Equal(t, ExitSuccess, code, h.stderr())
	assert.Equal(t, "Personal (Default)\nSide (Profile 3)\nWork (Profile 1)\nWork (Profile 2)\n", h.stdout())
}

func TestProfiles_JSON(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.withProfiles(t)

	code := h.run("profiles", "--output", "json")

	require.Equal(t, ExitSuccess, code, h.stderr())
	var infos []ProfileInfo
	require.NoError(t, json.Unmarshal([]byte(h.stdout()), &infos))
	require.Len(t, infos, 4)
	assert.Equal(t, ProfileInfo{Name: "Personal", Dir: "Default"}, infos[0])
}

func TestProfiles_None(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.env["CHROME_DIR"] = filepath.Join(t.TempDir(), "missing")

	code := h.run("profiles")

	assert.Equal(t, ExitError, code)
	assert.Contains(t, h.stderr(), "no Chrome profiles found")
}

func TestPort(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	require.Equal(t, ExitSuccess, h.run("port"))
	assert.Equal(t, "9222\n", h.stdout())

	port := strconv.Itoa(releasedPort(t))
	require.Equal(t, ExitSuccess, h.run("start", "--port", port), h.stderr())
	require.Equal(t, ExitSuccess, h.run("port"))
	assert.Equal(t, port+"\n", h.stdout())
}

func TestRun_UnknownOutput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code := h.run("--output", "yaml", "port")

	assert.Equal(t, ExitError, code)
	assert.Contains(t, h.stderr(), "unknown output format")
}

func TestExpandHome(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/home/u", expandHome("~", "/home/u"))
	assert.Equal(t, filepath.Join("/home/u", "x", "y"), expandHome("~/x/y", "/home/u"))
	assert.Equal(t, "/abs", expandHome("/abs", "/home/u"))
	assert.Equal(t, "~other/x", expandHome("~other/x", "/home/u"))
}
