// Package browser defines the page capability surface the automation core
// depends on, and implements it on top of Chrome driven through Rod.
//
// The core never imports Rod directly: the captcha monitor and the
// automation loop only see Page, Element and Browser, so tests drive them
// with in-memory fakes.
package browser

import (
	"context"
	"errors"
)

// ErrElementNotFound is returned when a selector matches nothing.
var ErrElementNotFound = errors.New("browser: element not found")

// Element is a handle on a DOM element.
type Element interface {
	Click(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	Focus(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
}

// Keyboard sends text to the focused element.
type Keyboard interface {
	InsertText(ctx context.Context, text string) error
	Backspace(ctx context.Context) error
}

// Response is an HTTP response observed by the page.
type Response struct {
	URL      string
	Status   int
	Document bool // main document rather than a subresource
}

// Page is one browser tab.
type Page interface {
	Keyboard

	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)

	// FindElement returns ErrElementNotFound when nothing matches. It
	// does not wait; see WaitElement for the retrying variant.
	FindElement(ctx context.Context, selector string) (Element, error)
	FindElements(ctx context.Context, selector string) ([]Element, error)

	// Scroll moves the viewport vertically by dy pixels.
	Scroll(ctx context.Context, dy float64) error

	// SubscribeNavigation calls fn with the new URL after each main-frame
	// navigation. The returned function cancels the subscription.
	SubscribeNavigation(fn func(url string)) (cancel func())
	// SubscribeResponse calls fn for each HTTP response.
	SubscribeResponse(fn func(Response)) (cancel func())

	Close() error
}

// Browser is a running browser instance.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Proxy is an upstream HTTP proxy with optional credentials.
type Proxy struct {
	Address  string
	Port     int
	Username string
	Password string
}

// LaunchOptions are per-account launch settings.
type LaunchOptions struct {
	Proxy      *Proxy
	ProfileDir string // persistent user data dir; empty = throwaway profile
}

// Launcher starts browsers. Manager is the Rod implementation.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}
