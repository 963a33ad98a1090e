package interfaces

import (
	"context"
	"time"
)

// Browser is the automation handle the login orchestrator drives. It wraps
// one live browser session; Close must always be called so no browser
// process leaks past the attempt boundary.
type Browser interface {
	// Navigate loads the given URL.
	Navigate(url string) error

	// WaitVisible blocks until the element matching the CSS selector is
	// displayed, or the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Fill clears the element matching the selector and types the value.
	Fill(selector, value string) error

	// Click clicks the element matching the selector.
	Click(selector string) error

	// CurrentURL returns the URL of the current page.
	CurrentURL() (string, error)

	// PageSource returns the current page's HTML.
	PageSource() (string, error)

	// WaitURLContains blocks until the current URL contains the substring,
	// returning the matching URL.
	WaitURLContains(ctx context.Context, substr string, timeout time.Duration) (string, error)

	// Close tears down the browser session and its driver service.
	Close() error
}

// BrowserFactory provisions a driver binary and opens a fresh browser
// session for one login attempt.
type BrowserFactory interface {
	NewBrowser(ctx context.Context) (Browser, error)
}
