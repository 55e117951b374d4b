package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// navigateTimeout bounds one navigation including the load event.
const navigateTimeout = 60 * time.Second

// Tab adapts a Rod page to the Page interface.
type Tab struct {
	page   *rod.Page
	ctx    context.Context
	cancel context.CancelFunc
	owner  *rodBrowser
	router *rod.HijackRouter
}

func openTab(ctx context.Context, b *rodBrowser) (*Tab, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	var router *rod.HijackRouter
	if len(b.blocked) > 0 {
		if router, err = b.blocked.intercept(page); err != nil {
			b.logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	tctx, cancel := context.WithCancel(b.ctx)
	return &Tab{page: page, ctx: tctx, cancel: cancel, owner: b, router: router}, nil
}

// Navigate loads url and waits for the load event. A load timeout is
// logged, not returned: heavy feeds rarely fire load on time.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()

	p := t.page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		t.owner.logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

func (t *Tab) CurrentURL(ctx context.Context) (string, error) {
	info, err := t.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (t *Tab) HTML(ctx context.Context) (string, error) {
	html, err := t.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return html, nil
}

func (t *Tab) FindElement(ctx context.Context, selector string) (Element, error) {
	has, el, err := t.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %s: %w", selector, err)
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return &tabElement{el: el}, nil
}

func (t *Tab) FindElements(ctx context.Context, selector string) ([]Element, error) {
	els, err := t.page.Context(ctx).Elements(selector)
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("browser: query all %s: %w", selector, err)
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &tabElement{el: el})
	}
	return out, nil
}

func (t *Tab) Scroll(ctx context.Context, dy float64) error {
	if err := t.page.Context(ctx).Mouse.Scroll(0, dy, 8); err != nil {
		return fmt.Errorf("browser: scroll: %w", err)
	}
	return nil
}

func (t *Tab) InsertText(ctx context.Context, text string) error {
	return t.page.Context(ctx).InsertText(text)
}

func (t *Tab) Backspace(ctx context.Context) error {
	return t.page.Context(ctx).Keyboard.Type(input.Backspace)
}

func (t *Tab) SubscribeNavigation(fn func(url string)) func() {
	ctx, cancel := context.WithCancel(t.ctx)
	wait := t.page.Context(ctx).EachEvent(func(e *proto.PageFrameNavigated) {
		if e.Frame != nil && e.Frame.ParentID == "" {
			fn(e.Frame.URL)
		}
	})
	go wait()
	return cancel
}

func (t *Tab) SubscribeResponse(fn func(Response)) func() {
	ctx, cancel := context.WithCancel(t.ctx)
	wait := t.page.Context(ctx).EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Response == nil {
			return
		}
		fn(Response{
			URL:      e.Response.URL,
			Status:   e.Response.Status,
			Document: e.Type == proto.NetworkResourceTypeDocument,
		})
	})
	go wait()
	return cancel
}

// Close closes the tab and cancels its event subscriptions.
func (t *Tab) Close() error {
	t.cancel()
	if t.router != nil {
		t.router.Stop()
	}
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}

type tabElement struct {
	el *rod.Element
}

func (e *tabElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *tabElement) ScrollIntoView(ctx context.Context) error {
	return e.el.Context(ctx).ScrollIntoView()
}

func (e *tabElement) Focus(ctx context.Context) error {
	return e.el.Context(ctx).Focus()
}

func (e *tabElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *tabElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}
