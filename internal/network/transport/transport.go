package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strings"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// Transport 抽象了可靠字节流的监听与拨号。
//
// 目前支持：
//   - SOCKET：TCP；
//   - VM_PIPE：进程内管道，地址只在当前进程内可见，主要用于测试。
//
// 配置了 TLS 时，两种协议都会在字节流之上叠加 TLS。
type Transport interface {
	// Protocol 返回协议名称。
	Protocol() string
	// Listen 在 addr 上监听。
	Listen(ctx context.Context, addr string) (net.Listener, error)
	// Dial 连接 addr，启用 TLS 时在返回前完成握手。
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// New 按协议名称创建 Transport，协议名称不区分大小写，空串表示 SOCKET。
// tlsConfig 为 nil 时不启用 TLS。
func New(protocol string, tlsConfig *tls.Config) (Transport, error) {
	switch strings.ToUpper(strings.TrimSpace(protocol)) {
	case config.ProtocolSocket, "":
		return &socketTransport{tlsConfig: tlsConfig}, nil
	case config.ProtocolVMPipe:
		return &pipeTransport{hub: defaultHub, tlsConfig: tlsConfig}, nil
	}
	return nil, merr.WrapErrConfigUnknownProtocol(protocol)
}

// wrapServer 在监听器上叠加 TLS。
func wrapServer(l net.Listener, cfg *tls.Config) net.Listener {
	if cfg == nil {
		return l
	}
	return tls.NewListener(l, cfg)
}

// wrapClient 在已建立的连接上完成 TLS 客户端握手。
func wrapClient(ctx context.Context, conn net.Conn, cfg *tls.Config, addr string) (net.Conn, error) {
	if cfg == nil {
		return conn, nil
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, merr.WrapErrTransportHandshake(addr, err)
	}
	return tlsConn, nil
}
