// Package launcher provides Chrome browser discovery, port allocation,
// reachability probing and detached launching.
package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"go.uber.org/zap"
)

// ErrExecutableNotFound is returned when no browser binary can be located.
var ErrExecutableNotFound = errors.New("Chrome/Chromium not found")

// LaunchSpec describes one browser launch.
type LaunchSpec struct {
	Port        int    // Remote debugging port
	UserDataDir string // Isolated working directory
	ProfileDir  string // Profile directory inside UserDataDir, empty for none
	Headless    bool
	NoSandbox   bool   // Only set when running elevated on Linux
	StartURL    string // Appended as the last argument when non-empty
}

// candidates lists the well-known install locations for goos.
func candidates(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "linux":
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	}
	return nil
}

// FindExecutable locates Chrome on the system. If explicit is non-empty it
// must exist and is returned as is; otherwise PATH and the known install
// locations are searched.
func FindExecutable(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w at %s", ErrExecutableNotFound, explicit)
		}
		return explicit, nil
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, p := range candidates(runtime.GOOS) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", ErrExecutableNotFound
}

// BuildArgs builds the browser command line for spec.
func BuildArgs(spec LaunchSpec) []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(spec.Port),
		"--user-data-dir=" + spec.UserDataDir,
		"--no-first-run",
		"--no-default-browser-check",
	}
	if spec.NoSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}
	if spec.ProfileDir != "" {
		args = append(args, "--profile-directory="+spec.ProfileDir)
	}
	if spec.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	if spec.StartURL != "" {
		args = append(args, spec.StartURL)
	}
	return args
}

// NeedsNoSandbox reports whether the sandbox has to be disabled: Chrome
// refuses to start sandboxed as root on Linux.
func NeedsNoSandbox(goos string, euid int) bool {
	return goos == "linux" && euid == 0
}

// HasDisplay reports whether a windowing display is available. Only Linux
// can lack one; there DISPLAY or WAYLAND_DISPLAY must be set.
func HasDisplay(goos string, getenv func(string) string) bool {
	if goos != "linux" {
		return true
	}
	return getenv("DISPLAY") != "" || getenv("WAYLAND_DISPLAY") != ""
}

var singletonArtifacts = []string{"SingletonLock", "SingletonSocket", "SingletonCookie"}

// RemoveSingletonArtifacts deletes stale process-lock files left in dir by a
// previous browser. Failures are logged and otherwise ignored.
func RemoveSingletonArtifacts(dir string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, name := range singletonArtifacts {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Debug("could not remove lock artifact", zap.String("path", path), zap.Error(err))
		}
	}
}
