package transport

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

type socketTransport struct {
	tlsConfig *tls.Config
}

func (t *socketTransport) Protocol() string {
	return config.ProtocolSocket
}

func (t *socketTransport) Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, merr.WrapErrTransportBind(addr, err)
	}
	return wrapServer(l, t.tlsConfig), nil
}

func (t *socketTransport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, merr.WrapErrTransportDial(addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return wrapClient(ctx, conn, t.tlsConfig, addr)
}
