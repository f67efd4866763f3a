package mocks

import (
	"context"
	"sync"

	"github.com/xkilldash9x/cfclear/api/schemas"
)

// ScriptedPage is an in-memory BrowserSession whose state tests mutate
// directly or through the hooks. Hooks run with the page lock held, so they
// must change fields directly instead of calling methods.
type ScriptedPage struct {
	mu sync.Mutex

	URL    string
	Agent  string
	HTML   string
	Jar    []schemas.Cookie
	Widget *schemas.Widget

	// ClickResults is consumed one entry per click. Once exhausted every click resolves.
	ClickResults []bool

	// OnNavigate runs after each navigation.
	OnNavigate func(p *ScriptedPage)
	// OnLocate runs before each widget lookup with the 1-based lookup count.
	OnLocate func(p *ScriptedPage, n int)
	// OnClick runs after each resolved click with the 1-based click count.
	OnClick func(p *ScriptedPage, n int)

	NavigateErr error
	ContentErr  error
	CookiesErr  error
	LocateErr   error
	ClickErr    error

	navigations []string
	locates     int
	clickTries  int
	clicks      int
	closes      int
}

var _ schemas.BrowserSession = (*ScriptedPage)(nil)

func (p *ScriptedPage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.navigations = append(p.navigations, url)
	if p.URL == "" {
		p.URL = url
	}
	if p.OnNavigate != nil {
		p.OnNavigate(p)
	}
	return nil
}

func (p *ScriptedPage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, p.ContentErr
}

func (p *ScriptedPage) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CookiesErr != nil {
		return nil, p.CookiesErr
	}
	return append([]schemas.Cookie(nil), p.Jar...), nil
}

func (p *ScriptedPage) UserAgent(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Agent, nil
}

func (p *ScriptedPage) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL, nil
}

func (p *ScriptedPage) LocateWidget(ctx context.Context) (*schemas.Widget, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locates++
	if p.OnLocate != nil {
		p.OnLocate(p, p.locates)
	}
	if p.LocateErr != nil {
		return nil, p.LocateErr
	}
	if p.Widget == nil {
		return nil, nil
	}
	w := *p.Widget
	return &w, nil
}

func (p *ScriptedPage) ClickWidget(ctx context.Context, w *schemas.Widget) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ClickErr != nil {
		return false, p.ClickErr
	}
	resolved := true
	if p.clickTries < len(p.ClickResults) {
		resolved = p.ClickResults[p.clickTries]
	}
	p.clickTries++
	if !resolved {
		return false, nil
	}
	p.clicks++
	if p.OnClick != nil {
		p.OnClick(p, p.clicks)
	}
	return true, nil
}

func (p *ScriptedPage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// Navigations returns the URLs passed to Navigate.
func (p *ScriptedPage) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Locates returns how many widget lookups were made.
func (p *ScriptedPage) Locates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locates
}

// Clicks returns how many clicks resolved.
func (p *ScriptedPage) Clicks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clicks
}

// ClickAttempts returns how many clicks were attempted, resolved or not.
func (p *ScriptedPage) ClickAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clickTries
}

// Closes returns how many times Close was called.
func (p *ScriptedPage) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// ChallengePage returns markup embedding the challenge configuration for the given cType.
func ChallengePage(cType string) string {
	return "<!DOCTYPE html><html><head><title>Just a moment...</title><script>(function(){window._cf_chl_opt={cvId: '3',cZone: 'example.com',cType: '" + cType + "',cRay: '8f1e2d3c4b5a6978'};}());</script></head><body><div id=\"challenge\"><input type=\"hidden\" name=\"cf-turnstile-response\"></div></body></html>"
}
