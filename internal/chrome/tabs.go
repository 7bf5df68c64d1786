package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
)

// Version returns the browser version reported over the protocol.
func (c *Client) Version(ctx context.Context) (*browser.GetVersionReturns, error) {
	result, err := c.Call(ctx, browser.CommandGetVersion, nil)
	if err != nil {
		return nil, err
	}

	var resp browser.GetVersionReturns
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling version: %w", err)
	}
	return &resp, nil
}

// Targets returns all browser targets (pages, workers, etc.).
func (c *Client) Targets(ctx context.Context) ([]TargetInfo, error) {
	result, err := c.Call(ctx, target.CommandGetTargets, nil)
	if err != nil {
		return nil, err
	}

	var resp target.GetTargetsReturns
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling targets: %w", err)
	}

	targets := make([]TargetInfo, 0, len(resp.TargetInfos))
	for _, t := range resp.TargetInfos {
		if t == nil {
			continue
		}
		targets = append(targets, TargetInfo{
			ID:    string(t.TargetID),
			Type:  t.Type,
			Title: t.Title,
			URL:   t.URL,
		})
	}

	return targets, nil
}

// Pages returns only page targets (tabs), in the order the browser lists them.
func (c *Client) Pages(ctx context.Context) ([]TargetInfo, error) {
	targets, err := c.Targets(ctx)
	if err != nil {
		return nil, err
	}

	pages := make([]TargetInfo, 0)
	for _, t := range targets {
		if t.Type == "page" {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// Navigate points an existing tab at url. It returns once the browser has
// committed to the navigation, not when the page has loaded. A navigation the
// browser rejects is reported as ErrNavigation.
func (c *Client) Navigate(ctx context.Context, targetID string, url string) error {
	sessionID, err := c.attachToTarget(ctx, targetID)
	if err != nil {
		return err
	}

	if _, err := c.CallSession(ctx, sessionID, page.CommandEnable, nil); err != nil {
		return fmt.Errorf("enabling Page domain: %w", err)
	}

	result, err := c.CallSession(ctx, sessionID, page.CommandNavigate, &page.NavigateParams{URL: url})
	if err != nil {
		return fmt.Errorf("navigating: %w", err)
	}

	var resp page.NavigateReturns
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parsing navigate response: %w", err)
	}
	if resp.ErrorText != "" {
		return fmt.Errorf("%w: %s: %s", ErrNavigation, url, resp.ErrorText)
	}
	return nil
}

// NewTab creates a new browser tab and returns its target ID.
func (c *Client) NewTab(ctx context.Context, url string) (string, error) {
	if url == "" {
		url = "about:blank"
	}

	result, err := c.Call(ctx, target.CommandCreateTarget, &target.CreateTargetParams{URL: url})
	if err != nil {
		return "", fmt.Errorf("creating target: %w", err)
	}

	var resp target.CreateTargetReturns
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	return string(resp.TargetID), nil
}

// Activate brings a tab to the foreground.
func (c *Client) Activate(ctx context.Context, targetID string) error {
	_, err := c.Call(ctx, target.CommandActivateTarget, &target.ActivateTargetParams{
		TargetID: target.ID(targetID),
	})
	if err != nil {
		return fmt.Errorf("activating target: %w", err)
	}
	return nil
}

// CloseTab closes a browser tab by its target ID.
func (c *Client) CloseTab(ctx context.Context, targetID string) error {
	c.forgetSession(targetID)

	_, err := c.Call(ctx, target.CommandCloseTarget, &target.CloseTargetParams{
		TargetID: target.ID(targetID),
	})
	if err != nil {
		return fmt.Errorf("closing target: %w", err)
	}
	return nil
}

// CloseBrowser asks the browser process to exit. The browser drops the
// connection while answering, so a closed connection counts as success.
func (c *Client) CloseBrowser(ctx context.Context) error {
	_, err := c.Call(ctx, browser.CommandClose, nil)
	if err != nil && !errors.Is(err, ErrConnectionClosed) {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}
