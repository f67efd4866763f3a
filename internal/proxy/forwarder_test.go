// internal/proxy/forwarder_test.go
package proxy

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// upstreamProxy is a minimal authenticating proxy. Plain requests are
// answered directly; CONNECT requests are acknowledged and then sent a banner.
type upstreamProxy struct {
	*httptest.Server
	mu       sync.Mutex
	auths    []string
	targets  []string
	expected string
}

func newUpstreamProxy(t *testing.T, user, pass string) *upstreamProxy {
	t.Helper()
	u := &upstreamProxy{expected: "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Proxy-Authorization")
		u.mu.Lock()
		u.auths = append(u.auths, auth)
		if r.Method == http.MethodConnect {
			u.targets = append(u.targets, r.Host)
		} else {
			u.targets = append(u.targets, r.URL.String())
		}
		u.mu.Unlock()

		if auth != u.expected {
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		if r.Method != http.MethodConnect {
			_, _ = io.WriteString(w, "via-upstream")
			return
		}

		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 200 Connection Established\r\n\r\nhello from tunnel")
		_ = buf.Flush()
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstreamProxy) url(t *testing.T, userinfo *url.Userinfo) *url.URL {
	t.Helper()
	parsed, err := url.Parse(u.URL)
	require.NoError(t, err)
	parsed.User = userinfo
	return parsed
}

func (u *upstreamProxy) seen() ([]string, []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.auths...), append([]string(nil), u.targets...)
}

func startForwarder(t *testing.T, upstream *url.URL) *Forwarder {
	t.Helper()
	f, err := NewForwarder(upstream, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.Close(ctx)
	})
	return f
}

func TestForwarder_InjectsCredentialsOnPlainRequests(t *testing.T) {
	up := newUpstreamProxy(t, "alice", "s3cret")
	f := startForwarder(t, up.url(t, url.UserPassword("alice", "s3cret")))

	fwdURL, err := url.Parse(f.URL())
	require.NoError(t, err)
	transport := &http.Transport{Proxy: http.ProxyURL(fwdURL)}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: 5 * time.Second}

	resp, err := client.Get("http://target.invalid/page?q=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "via-upstream", string(body))

	auths, targets := up.seen()
	require.Len(t, auths, 1)
	assert.Equal(t, up.expected, auths[0])
	assert.Equal(t, "http://target.invalid/page?q=1", targets[0])
}

func TestDialConnect(t *testing.T) {
	up := newUpstreamProxy(t, "bob", "pw")

	t.Run("authenticated tunnel", func(t *testing.T) {
		dial, err := newUpstreamDialer(up.url(t, url.UserPassword("bob", "pw")))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := dial(ctx, "tcp", "target.invalid:443")
		require.NoError(t, err)
		defer conn.Close()

		banner, err := io.ReadAll(conn)
		require.NoError(t, err)
		assert.Equal(t, "hello from tunnel", string(banner))
	})

	t.Run("wrong credentials", func(t *testing.T) {
		dial, err := newUpstreamDialer(up.url(t, url.UserPassword("bob", "nope")))
		require.NoError(t, err)

		_, err = dial(context.Background(), "tcp", "target.invalid:443")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "407")
	})

	_, targets := up.seen()
	assert.Contains(t, targets, "target.invalid:443")
}

func TestNewUpstreamDialer(t *testing.T) {
	_, err := newUpstreamDialer(&url.URL{Scheme: "socks5", Host: "127.0.0.1:1080", User: url.UserPassword("u", "p")})
	assert.NoError(t, err)

	_, err = newUpstreamDialer(&url.URL{Scheme: "ftp", Host: "127.0.0.1:21"})
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	withCreds := &url.URL{Scheme: "http", Host: "proxy.example:8080", User: url.UserPassword("u", "p")}
	assert.True(t, NeedsForwarder(withCreds))
	assert.False(t, NeedsForwarder(&url.URL{Scheme: "http", Host: "proxy.example:8080"}))
	assert.False(t, NeedsForwarder(nil))
	assert.Equal(t, "http://proxy.example:8080", ServerArg(withCreds))
	assert.Equal(t, "Basic dTpw", basicAuth(withCreds))
}

func TestForwarder_Lifecycle(t *testing.T) {
	f, err := NewForwarder(&url.URL{Scheme: "http", Host: "127.0.0.1:9", User: url.User("u")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, f.Addr())
	assert.NoError(t, f.Close(context.Background()), "close before start is a no-op")

	require.NoError(t, f.Start(context.Background()))
	assert.NotEmpty(t, f.Addr())
	assert.Error(t, f.Start(context.Background()))

	assert.NoError(t, f.Close(context.Background()))
	assert.NoError(t, f.Close(context.Background()))

	_, err = NewForwarder(nil, nil)
	assert.Error(t, err)
}
