package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// pipeHub 为进程内的 VM_PIPE 地址表。
type pipeHub struct {
	mu        sync.Mutex
	listeners map[string]*pipeListener
}

var defaultHub = &pipeHub{listeners: make(map[string]*pipeListener)}

type pipeAddr string

func (a pipeAddr) Network() string { return "vm_pipe" }
func (a pipeAddr) String() string { return string(a) }

type pipeTransport struct {
	hub       *pipeHub
	tlsConfig *tls.Config
}

func (t *pipeTransport) Protocol() string {
	return config.ProtocolVMPipe
}

func (t *pipeTransport) Listen(_ context.Context, addr string) (net.Listener, error) {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	if _, exists := t.hub.listeners[addr]; exists {
		return nil, merr.WrapErrTransportBind(addr, errors.New("address already in use"))
	}
	l := &pipeListener{
		hub:   t.hub,
		addr:  pipeAddr(addr),
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	t.hub.listeners[addr] = l
	return wrapServer(l, t.tlsConfig), nil
}

func (t *pipeTransport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	t.hub.mu.Lock()
	l, ok := t.hub.listeners[addr]
	t.hub.mu.Unlock()
	if !ok {
		return nil, merr.WrapErrTransportDial(addr, errors.New("connection refused"))
	}

	server, client := net.Pipe()
	select {
	case l.conns <- &pipeConn{Conn: server, local: l.addr, remote: pipeAddr(addr + "#client")}:
	case <-l.done:
		_ = server.Close()
		_ = client.Close()
		return nil, merr.WrapErrTransportDial(addr, errors.New("connection refused"))
	case <-ctx.Done():
		_ = server.Close()
		_ = client.Close()
		return nil, merr.WrapErrTransportDial(addr, ctx.Err())
	}
	conn := &pipeConn{Conn: client, local: pipeAddr(addr + "#client"), remote: l.addr}
	return wrapClient(ctx, conn, t.tlsConfig, addr)
}

// pipeListener 为 VM_PIPE 的监听器，Accept 返回 net.Pipe 的服务端。
type pipeListener struct {
	hub       *pipeHub
	addr      pipeAddr
	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.hub.mu.Lock()
		if l.hub.listeners[string(l.addr)] == l {
			delete(l.hub.listeners, string(l.addr))
		}
		l.hub.mu.Unlock()
	})
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return l.addr
}

// pipeConn 为 net.Pipe 补充可读的地址。
type pipeConn struct {
	net.Conn
	local  net.Addr
	remote net.Addr
}

func (c *pipeConn) LocalAddr() net.Addr { return c.local }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remote }
