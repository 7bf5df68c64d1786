// Package tabs captures the restorable tabs of a running browser and reopens
// URLs in a browser, reusing or activating existing tabs where it can.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tomyan/browserctl/internal/chrome"
)

// ErrStartURLOpenFailed is returned when a URL that had to open did not.
var ErrStartURLOpenFailed = errors.New("failed to open URL")

// Browser is the part of the DevTools client the restorer needs.
// *chrome.Client implements it.
type Browser interface {
	Pages(ctx context.Context) ([]chrome.TargetInfo, error)
	NewTab(ctx context.Context, url string) (string, error)
	Navigate(ctx context.Context, targetID, url string) error
	Activate(ctx context.Context, targetID string) error
}

var internalPrefixes = []string{
	"about:",
	"chrome://",
	"chrome-extension://",
	"chrome-search://",
	"devtools://",
}

// IsRestorable reports whether a tab showing url is worth reopening after a
// restart. Blank, internal, extension and developer-tools pages are not.
func IsRestorable(url string) bool {
	if url == "" {
		return false
	}
	for _, p := range internalPrefixes {
		if strings.HasPrefix(url, p) {
			return false
		}
	}
	return true
}

// Restorable filters urls to restorable ones, dropping repeats and keeping
// the first occurrence order.
func Restorable(urls []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, u := range urls {
		if !IsRestorable(u) || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Capture reads every open tab of b and returns its restorable URL set.
func Capture(ctx context.Context, b Browser) ([]string, error) {
	pages, err := b.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tabs: %w", err)
	}
	urls := make([]string, len(pages))
	for i, p := range pages {
		urls[i] = p.URL
	}
	return Restorable(urls), nil
}

// OpenOptions controls Open.
type OpenOptions struct {
	// Required turns any failure into ErrStartURLOpenFailed. Otherwise a
	// failed URL is logged and skipped.
	Required bool
	// AlwaysNewTab opens the first URL in a new tab instead of reusing the
	// last one.
	AlwaysNewTab bool
	// PreferExisting activates an already-open tab when a single URL is
	// requested and some tab shows it.
	PreferExisting bool
	Logger         *zap.Logger
}

// Open loads urls into b. The first URL reuses the most recent tab unless
// AlwaysNewTab is set; every later URL gets a new tab, and the final tab is
// brought to the front. Duplicates in urls are opened once. It returns how
// many URLs were opened; URLs that failed without Required are not counted.
func Open(ctx context.Context, b Browser, urls []string, opts OpenOptions) (int, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	list := dedupe(urls)
	if len(list) == 0 {
		return 0, nil
	}

	pages, err := b.Pages(ctx)
	if err != nil {
		return 0, openFailure(opts, list[0], fmt.Errorf("listing tabs: %w", err))
	}

	if opts.PreferExisting && len(list) == 1 {
		if id, ok := findTab(pages, list[0]); ok {
			if err := b.Activate(ctx, id); err != nil {
				logger.Warn("could not bring tab to front", zap.String("url", list[0]), zap.Error(err))
			}
			return 1, nil
		}
	}

	opened := 0
	var current string
	if !opts.AlwaysNewTab && len(pages) > 0 {
		current = pages[len(pages)-1].ID
	}

	for i, url := range list {
		if current == "" {
			id, err := b.NewTab(ctx, "")
			if err != nil {
				if opts.Required {
					return opened, openFailure(opts, url, err)
				}
				logger.Warn("could not open tab", zap.String("url", url), zap.Error(err))
				continue
			}
			current = id
		}

		if err := b.Navigate(ctx, current, url); err != nil {
			if opts.Required {
				return opened, openFailure(opts, url, err)
			}
			logger.Warn("could not restore tab", zap.String("url", url), zap.Error(err))
		} else {
			opened++
		}

		if i < len(list)-1 {
			current = ""
		}
	}

	if current != "" {
		if err := b.Activate(ctx, current); err != nil {
			logger.Warn("could not bring tab to front", zap.String("target", current), zap.Error(err))
		}
	}
	return opened, nil
}

// Focus brings the tab showing url to the front. It reports false when no
// tab shows it.
func Focus(ctx context.Context, b Browser, url string) (bool, error) {
	pages, err := b.Pages(ctx)
	if err != nil {
		return false, fmt.Errorf("listing tabs: %w", err)
	}
	id, ok := findTab(pages, url)
	if !ok {
		return false, nil
	}
	return true, b.Activate(ctx, id)
}

func openFailure(opts OpenOptions, url string, err error) error {
	if !opts.Required {
		return err
	}
	return fmt.Errorf("%w %s: %w", ErrStartURLOpenFailed, url, err)
}

func dedupe(urls []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// findTab returns the first page whose URL matches url, treating a missing
// trailing slash as equal since the browser normalises "https://host" to
// "https://host/".
func findTab(pages []chrome.TargetInfo, url string) (string, bool) {
	for _, p := range pages {
		if SameURL(p.URL, url) {
			return p.ID, true
		}
	}
	return "", false
}

// SameURL compares two URLs, ignoring one trailing slash.
func SameURL(a, b string) bool {
	return a == b || strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}
