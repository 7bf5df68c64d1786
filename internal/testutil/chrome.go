// Package testutil provides test doubles for the DevTools endpoint and the
// browser spawner, plus helpers for tests that need a real browser.
package testutil

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
)

// FindChrome locates a Chrome or Chromium binary, honouring CHROME_BIN.
// It returns "" when none is installed.
func FindChrome() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		if _, err := os.Stat(bin); err == nil {
			return bin
		}
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "linux":
		paths = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// RequireChrome returns the browser binary or skips the test.
func RequireChrome(t testing.TB) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping real browser test in short mode")
	}
	path := FindChrome()
	if path == "" {
		t.Skip("Chrome not found")
	}
	return path
}
