package sshpool

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/net/proxy"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// ProxyConfig is the store's proxy descriptor, reused here so callers never
// have to convert between a vault-layer and a pool-layer representation.
type ProxyConfig = store.ProxyConfig

func proxyAddr(c *ProxyConfig) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// forwardDialer adapts a dialFunc (which may tunnel through a previous SSH
// hop) to the plain net.Dialer-shaped interface x/net/proxy expects.
type forwardDialer struct {
	ctx context.Context
	dial dialFunc
}

func (f forwardDialer) Dial(network, addr string) (net.Conn, error) {
	return f.dial(f.ctx, network, addr)
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// dialViaProxy reaches targetAddr by first connecting to cfg's proxy using
// dial, then performing the proxy's handshake to targetAddr.
func dialViaProxy(ctx context.Context, dial dialFunc, cfg *ProxyConfig, targetAddr string) (net.Conn, error) {
	switch cfg.Type {
	case store.ProxyTypeSOCKS5:
		return dialSOCKS5(ctx, dial, cfg, targetAddr)
	case store.ProxyTypeSOCKS4:
		return dialSOCKS4(ctx, dial, cfg, targetAddr)
	case store.ProxyTypeHTTP:
		return dialHTTPConnect(ctx, dial, cfg, targetAddr)
	default:
		return nil, trace.Wrap(ErrUnsupportedProxyType, "%q", cfg.Type)
	}
}

func dialSOCKS5(ctx context.Context, dial dialFunc, cfg *ProxyConfig, targetAddr string) (net.Conn, error) {
	var auth *proxy.Auth
	if cfg.Username != "" {
		auth = &proxy.Auth{User: cfg.Username, Password: cfg.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", proxyAddr(cfg), auth, forwardDialer{ctx: ctx, dial: dial})
	if err != nil {
		return nil, newDialError(FailureProxyHandshake, err)
	}
	conn, err := dialer.Dial("tcp", targetAddr)
	if err != nil {
		return nil, newDialError(FailureProxyHandshake, err)
	}
	return conn, nil
}

// dialSOCKS4 implements the SOCKS4 CONNECT command directly: x/net/proxy
// only speaks SOCKS5, and no library in the dependency graph carries a
// SOCKS4 client.
func dialSOCKS4(ctx context.Context, dial dialFunc, cfg *ProxyConfig, targetAddr string) (net.Conn, error) {
	conn, err := dial(ctx, "tcp", proxyAddr(cfg))
	if err != nil {
		return nil, newDialError(FailureConnect, err)
	}

	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		conn.Close()
		return nil, newDialError(FailureProxyHandshake, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		conn.Close()
		return nil, newDialError(FailureProxyHandshake, err)
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
		if err != nil || len(addrs) == 0 {
			conn.Close()
			return nil, newDialError(FailureDNS, err)
		}
		ip = addrs[0]
	}

	req := make([]byte, 0, 9+len(cfg.Username)+1)
	req = append(req, 0x04, 0x01)
	req = binary.BigEndian.AppendUint16(req, uint16(port))
	req = append(req, ip.To4()...)
	req = append(req, []byte(cfg.Username)...)
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, newDialError(FailureProxyHandshake, err)
	}

	resp := make([]byte, 8)
	if _, err := fullRead(conn, resp); err != nil {
		conn.Close()
		return nil, newDialError(FailureProxyHandshake, err)
	}
	if resp[0] != 0x00 || resp[1] != 0x5a {
		conn.Close()
		return nil, newDialError(FailureProxyHandshake, fmt.Errorf("socks4 connect rejected, code %d", resp[1]))
	}
	return conn, nil
}

func dialHTTPConnect(ctx context.Context, dial dialFunc, cfg *ProxyConfig, targetAddr string) (net.Conn, error) {
	conn, err := dial(ctx, "tcp", proxyAddr(cfg))
	if err != nil {
		return nil, newDialError(FailureConnect, err)
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", targetAddr, targetAddr)
	if cfg.Username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		req += "Proxy-Authorization: Basic " + credentials + "\r\n"
	}
	req += "\r\n"

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, newDialError(FailureProxyHandshake, err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, newDialError(FailureProxyHandshake, err)
	}
	if len(statusLine) < 12 || (statusLine[9] != '2') {
		conn.Close()
		return nil, newDialError(FailureProxyHandshake, fmt.Errorf("proxy refused CONNECT: %q", statusLine))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, newDialError(FailureProxyHandshake, err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	return conn, nil
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
