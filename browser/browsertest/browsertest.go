// Package browsertest provides in-memory implementations of the browser
// capability interfaces for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/socialbot/browser"
)

// Page is a scriptable browser.Page. The zero value is not usable; call NewPage.
type Page struct {
	mu sync.Mutex

	url      string
	html     string
	routes   map[string]string
	elements map[string][]*Element
	urlErr   error
	buf      []rune
	keys     int

	navSubs  map[int]func(string)
	respSubs map[int]func(browser.Response)
	nextSub  int

	navigations []string
	scrolls     []float64
	closed      bool

	// OnNavigate, when set, runs after each Navigate with the target URL.
	OnNavigate func(p *Page, url string)
}

// NewPage returns a page showing url.
func NewPage(url string) *Page {
	return &Page{
		url:      url,
		routes:   make(map[string]string),
		elements: make(map[string][]*Element),
		navSubs:  make(map[int]func(string)),
		respSubs: make(map[int]func(browser.Response)),
	}
}

// Route sets the HTML served when url is navigated to.
func (p *Page) Route(url, html string) {
	p.mu.Lock()
	p.routes[url] = html
	p.mu.Unlock()
}

// SetURL changes the current URL and notifies navigation subscribers, as a
// redirect or a user click would.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	if html, ok := p.routes[url]; ok {
		p.html = html
	}
	subs := make([]func(string), 0, len(p.navSubs))
	for _, fn := range p.navSubs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(url)
	}
}

// SetHTML replaces the page content.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	p.html = html
	p.mu.Unlock()
}

// SetElements registers the elements returned for selector.
func (p *Page) SetElements(selector string, els ...*Element) {
	p.mu.Lock()
	p.elements[selector] = els
	p.mu.Unlock()
}

// FailURL makes CurrentURL return err until called again with nil.
func (p *Page) FailURL(err error) {
	p.mu.Lock()
	p.urlErr = err
	p.mu.Unlock()
}

// EmitResponse notifies response subscribers.
func (p *Page) EmitResponse(r browser.Response) {
	p.mu.Lock()
	subs := make([]func(browser.Response), 0, len(p.respSubs))
	for _, fn := range p.respSubs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(r)
	}
}

// Typed returns the text committed through the Keyboard methods.
func (p *Page) Typed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.buf)
}

// Keystrokes counts InsertText and Backspace calls.
func (p *Page) Keystrokes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys
}

// Navigations returns the URLs passed to Navigate.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Scrolls returns the scroll offsets applied.
func (p *Page) Scrolls() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.scrolls...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscribers returns the number of live navigation subscriptions.
func (p *Page) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.navSubs)
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	p.buf = p.buf[:0]
	hook := p.OnNavigate
	p.mu.Unlock()

	p.SetURL(url)
	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.urlErr != nil {
		return "", p.urlErr
	}
	return p.url, nil
}

func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) FindElement(_ context.Context, selector string) (browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.elements[selector]
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return els[0], nil
}

func (p *Page) FindElements(_ context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]browser.Element, 0, len(p.elements[selector]))
	for _, el := range p.elements[selector] {
		out = append(out, el)
	}
	return out, nil
}

func (p *Page) Scroll(_ context.Context, dy float64) error {
	p.mu.Lock()
	p.scrolls = append(p.scrolls, dy)
	p.mu.Unlock()
	return nil
}

func (p *Page) InsertText(_ context.Context, text string) error {
	p.mu.Lock()
	p.buf = append(p.buf, []rune(text)...)
	p.keys++
	p.mu.Unlock()
	return nil
}

func (p *Page) Backspace(context.Context) error {
	p.mu.Lock()
	if len(p.buf) > 0 {
		p.buf = p.buf[:len(p.buf)-1]
	}
	p.keys++
	p.mu.Unlock()
	return nil
}

func (p *Page) SubscribeNavigation(fn func(string)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.navSubs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.navSubs, id)
		p.mu.Unlock()
	}
}

func (p *Page) SubscribeResponse(fn func(browser.Response)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.respSubs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.respSubs, id)
		p.mu.Unlock()
	}
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Element is a scriptable browser.Element.
type Element struct {
	mu     sync.Mutex
	attrs  map[string]string
	text   string
	clicks int

	// OnClick runs on every click.
	OnClick func()
}

// NewElement returns an element with the given text and attributes
// (name, value pairs).
func NewElement(text string, attrs ...string) *Element {
	e := &Element{text: text, attrs: make(map[string]string)}
	for i := 0; i+1 < len(attrs); i += 2 {
		e.attrs[attrs[i]] = attrs[i+1]
	}
	return e
}

// Clicks returns how many times the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	e.clicks++
	hook := e.OnClick
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (e *Element) ScrollIntoView(context.Context) error { return nil }
func (e *Element) Focus(context.Context) error          { return nil }

func (e *Element) Text(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text, nil
}

func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.attrs[name]
	return v, ok, nil
}

// Browser hands out pages built by NewPageFunc.
type Browser struct {
	mu     sync.Mutex
	pages  []*Page
	closed bool

	// NewPageFunc builds each new page. Default: a blank page.
	NewPageFunc func() *Page
}

func (b *Browser) NewPage(context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var p *Page
	if b.NewPageFunc != nil {
		p = b.NewPageFunc()
	} else {
		p = NewPage("about:blank")
	}
	b.pages = append(b.pages, p)
	return p, nil
}

// Pages returns the pages opened so far.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

func (b *Browser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Launcher returns Browser on every launch.
type Launcher struct {
	mu       sync.Mutex
	Browser  *Browser
	Err      error
	launches []browser.LaunchOptions
}

func (l *Launcher) Launch(_ context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Browser == nil {
		l.Browser = &Browser{}
	}
	return l.Browser, nil
}

// Launches returns the options of every Launch call.
func (l *Launcher) Launches() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.launches...)
}
