// internal/proxy/dialer.go
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// DialFunc opens a connection to addr through the upstream proxy.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

const dialTimeout = 30 * time.Second

// newUpstreamDialer returns a dialer tunnelling through upstream. HTTP and
// HTTPS proxies are reached with CONNECT, SOCKS5 proxies through x/net/proxy.
func newUpstreamDialer(upstream *url.URL) (DialFunc, error) {
	switch upstream.Scheme {
	case "http", "https":
		return func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialConnect(ctx, network, addr, upstream)
		}, nil
	case "socks5", "socks5h":
		var auth *xproxy.Auth
		if upstream.User != nil {
			password, _ := upstream.User.Password()
			auth = &xproxy.Auth{User: upstream.User.Username(), Password: password}
		}
		d, err := xproxy.SOCKS5("tcp", upstream.Host, auth, &net.Dialer{Timeout: dialTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to build socks5 dialer: %w", err)
		}
		cd, ok := d.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support contexts")
		}
		return cd.DialContext, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", upstream.Scheme)
	}
}

// dialConnect connects to the proxy and performs the CONNECT handshake,
// authenticating with the credentials embedded in the proxy URL.
func dialConnect(ctx context.Context, network, addr string, upstream *url.URL) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, network, upstream.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy %s: %w", upstream.Host, err)
	}

	if upstream.Scheme == "https" {
		host, _, splitErr := net.SplitHostPort(upstream.Host)
		if splitErr != nil {
			host = upstream.Host
		}
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("tls handshake with proxy %s failed: %w", upstream.Host, err)
		}
		conn = tlsConn
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if auth := basicAuth(upstream); auth != "" {
		connectReq.Header.Set("Proxy-Authorization", auth)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if err := connectReq.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy responded with non-200 status for CONNECT: %s", resp.Status)
	}

	if br.Buffered() > 0 {
		return &prefixedConn{Conn: conn, prefix: br}, nil
	}
	return conn, nil
}

// basicAuth renders the Proxy-Authorization value for the URL's userinfo.
func basicAuth(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	password, _ := u.User.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(u.User.Username()+":"+password))
}

// prefixedConn serves bytes buffered during the handshake before reading the connection.
type prefixedConn struct {
	net.Conn
	prefix io.Reader
}

func (c *prefixedConn) Read(p []byte) (int, error) {
	if c.prefix != nil {
		n, err := c.prefix.Read(p)
		if err == io.EOF {
			c.prefix = nil
			if n > 0 {
				return n, nil
			}
		} else if n > 0 || err != nil {
			return n, err
		}
	}
	return c.Conn.Read(p)
}
