package sshpool

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/vault/store"
)

func listenLocal(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func proxyConfigFor(t *testing.T, l net.Listener, kind store.ProxyType) *store.ProxyConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &store.ProxyConfig{Type: kind, Host: host, Port: port}
}

func directDial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

func TestDialHTTPConnectSucceedsOnOKResponse(t *testing.T) {
	l := listenLocal(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		line, _ := reader.ReadString('\n')
		require.Contains(t, line, "CONNECT")
		for {
			l, _ := reader.ReadString('\n')
			if l == "\r\n" || l == "\n" || l == "" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	cfg := proxyConfigFor(t, l, store.ProxyTypeHTTP)
	conn, err := dialHTTPConnect(context.Background(), directDial, cfg, "example.com:22")
	require.NoError(t, err)
	conn.Close()
}

func TestDialHTTPConnectFailsOnNonOKResponse(t *testing.T) {
	l := listenLocal(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		reader.ReadString('\n')
		conn.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\n\r\n"))
	}()

	cfg := proxyConfigFor(t, l, store.ProxyTypeHTTP)
	_, err := dialHTTPConnect(context.Background(), directDial, cfg, "example.com:22")
	require.Error(t, err)
}

func TestDialSOCKS4SucceedsOnGrantedResponse(t *testing.T) {
	l := listenLocal(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		conn.Read(buf)
		conn.Write([]byte{0x00, 0x5a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	}()

	cfg := proxyConfigFor(t, l, store.ProxyTypeSOCKS4)
	conn, err := dialSOCKS4(context.Background(), directDial, cfg, "93.184.216.34:22")
	require.NoError(t, err)
	conn.Close()
}

func TestDialSOCKS4FailsOnRejectedResponse(t *testing.T) {
	l := listenLocal(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		conn.Read(buf)
		conn.Write([]byte{0x00, 0x5b, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	}()

	cfg := proxyConfigFor(t, l, store.ProxyTypeSOCKS4)
	_, err := dialSOCKS4(context.Background(), directDial, cfg, "93.184.216.34:22")
	require.Error(t, err)
}

func TestDialViaProxyRejectsUnsupportedType(t *testing.T) {
	cfg := &store.ProxyConfig{Type: "carrier-pigeon", Host: "x", Port: 1}
	_, err := dialViaProxy(context.Background(), directDial, cfg, "target:22")
	require.ErrorIs(t, err, ErrUnsupportedProxyType)
}
