// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/cfclear/api/schemas"
)

// -- Launcher Mock --

// MockLauncher mocks schemas.Launcher.
type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Launch(ctx context.Context, cfg schemas.SessionConfig) (schemas.BrowserSession, error) {
	args := m.Called(ctx, cfg)
	var session schemas.BrowserSession
	if s := args.Get(0); s != nil {
		session = s.(schemas.BrowserSession)
	}
	return session, args.Error(1)
}

// -- Identity Mock --

// MockIdentityProvider mocks schemas.IdentityProvider.
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) Choose(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Browser Session Mock --

// MockBrowserSession mocks schemas.BrowserSession.
type MockBrowserSession struct {
	mock.Mock
}

func NewMockBrowserSession() *MockBrowserSession {
	return new(MockBrowserSession)
}

func (m *MockBrowserSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockBrowserSession) Content(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBrowserSession) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	args := m.Called(ctx)
	var cookies []schemas.Cookie
	if c := args.Get(0); c != nil {
		cookies = c.([]schemas.Cookie)
	}
	return cookies, args.Error(1)
}

func (m *MockBrowserSession) UserAgent(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBrowserSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBrowserSession) LocateWidget(ctx context.Context) (*schemas.Widget, error) {
	args := m.Called(ctx)
	var w *schemas.Widget
	if v := args.Get(0); v != nil {
		w = v.(*schemas.Widget)
	}
	return w, args.Error(1)
}

func (m *MockBrowserSession) ClickWidget(ctx context.Context, w *schemas.Widget) (bool, error) {
	args := m.Called(ctx, w)
	return args.Bool(0), args.Error(1)
}

func (m *MockBrowserSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var (
	_ schemas.Launcher         = (*MockLauncher)(nil)
	_ schemas.IdentityProvider = (*MockIdentityProvider)(nil)
	_ schemas.BrowserSession   = (*MockBrowserSession)(nil)
)
