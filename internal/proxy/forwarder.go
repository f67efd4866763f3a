// internal/proxy/forwarder.go
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
)

// Forwarder is a local, credential-free proxy for the browser. It relays
// every request and CONNECT tunnel to an upstream proxy, adding the upstream
// credentials on the way. Chrome cannot take proxy credentials on the command
// line, so it is pointed at the forwarder instead.
type Forwarder struct {
	upstream  *url.URL
	proxy     *goproxy.ProxyHttpServer
	transport *http.Transport
	logger    *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NeedsForwarder reports whether the upstream carries credentials the browser cannot send itself.
func NeedsForwarder(upstream *url.URL) bool {
	return upstream != nil && upstream.User != nil
}

// ServerArg renders the proxy URL without credentials, as Chrome's --proxy-server expects.
func ServerArg(upstream *url.URL) string {
	return upstream.Scheme + "://" + upstream.Host
}

// NewForwarder creates a forwarder for upstream. It does not listen until Start.
func NewForwarder(upstream *url.URL, logger *zap.Logger) (*Forwarder, error) {
	if upstream == nil {
		return nil, errors.New("upstream proxy is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("proxy_forwarder")

	dial, err := newUpstreamDialer(upstream)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	switch upstream.Scheme {
	case "http", "https":
		// net/http adds Proxy-Authorization from the userinfo for plain requests.
		transport.Proxy = http.ProxyURL(upstream)
	default:
		transport.DialContext = dial
	}

	p := goproxy.NewProxyHttpServer()
	p.Logger = zap.NewStdLog(log)
	p.Tr = transport
	p.ConnectDial = func(network, addr string) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		return dial(ctx, network, addr)
	}
	p.OnRequest().HandleConnectFunc(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		log.Debug("Tunnelling through upstream proxy.", zap.String("host", host))
		return goproxy.OkConnect, host
	})

	return &Forwarder{
		upstream:  upstream,
		proxy:     p,
		transport: transport,
		logger:    log,
	}, nil
}

// Start listens on an ephemeral loopback port and serves in the background.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.server != nil {
		return errors.New("forwarder already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen for proxy forwarder: %w", err)
	}

	f.listener = ln
	f.server = &http.Server{
		Handler:           f.proxy,
		ReadHeaderTimeout: 30 * time.Second,
		ErrorLog:          zap.NewStdLog(f.logger),
	}
	f.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("Proxy forwarder stopped unexpectedly.", zap.Error(err))
		}
	}(f.server, f.done)

	f.logger.Info("Proxy forwarder listening.",
		zap.String("addr", ln.Addr().String()),
		zap.String("upstream", ServerArg(f.upstream)),
	)
	return nil
}

// Addr returns the listening address, empty before Start.
func (f *Forwarder) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return ""
	}
	return f.listener.Addr().String()
}

// URL returns the address in the form passed to --proxy-server.
func (f *Forwarder) URL() string {
	return "http://" + f.Addr()
}

// Close stops the forwarder. It is safe to call more than once.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	srv, done := f.server, f.done
	f.server = nil
	f.mu.Unlock()

	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		// Hijacked tunnels are not tracked by Shutdown; force them closed.
		err = srv.Close()
	}
	<-done
	f.transport.CloseIdleConnections()
	return err
}
