package transport

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// TLSOptions 为 TLS 相关配置。
type TLSOptions struct {
	// KeyStore 为 PKCS#12 格式的证书与私钥文件。
	KeyStore         string
	KeyStorePassword string
	// TrustStore 为 PEM 格式的 CA 证书包，也可以是 PKCS#12 信任库（使用 KeyStorePassword）。
	TrustStore string
	// EnableProtocol 为逗号分隔的协议版本，例如 "TLSv1.2,TLSv1.3"。
	EnableProtocol string
	NeedClientAuth bool
}

// TLSOptionsFromSettings 读取会话的 TLS 配置，SocketUseSSL=N 时 enabled 为 false。
func TLSOptionsFromSettings(d *config.Dictionary) (opts TLSOptions, enabled bool, err error) {
	enabled, err = d.BoolOr(config.SocketUseSSL, false)
	if err != nil || !enabled {
		return TLSOptions{}, false, err
	}
	needClientAuth, err := d.BoolOr(config.NeedClientAuth, false)
	if err != nil {
		return TLSOptions{}, false, err
	}
	return TLSOptions{
		KeyStore:         d.StringOr(config.SocketKeyStore, ""),
		KeyStorePassword: d.StringOr(config.SocketKeyStorePassword, ""),
		TrustStore:       d.StringOr(config.SocketTrustStore, ""),
		EnableProtocol:   d.StringOr(config.EnableProtocol, "TLSv1.2"),
		NeedClientAuth:   needClientAuth,
	}, true, nil
}

// ServerConfig 构造服务端 TLS 配置，KeyStore 必须存在。
func (o TLSOptions) ServerConfig() (*tls.Config, error) {
	if o.KeyStore == "" {
		return nil, merr.WrapErrConfigMissing(config.SocketKeyStore, "tls")
	}
	cfg, err := o.baseConfig()
	if err != nil {
		return nil, err
	}
	if o.NeedClientAuth {
		if cfg.RootCAs == nil {
			return nil, merr.WrapErrConfigMissing(config.SocketTrustStore, "tls")
		}
		cfg.ClientCAs = cfg.RootCAs
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientConfig 构造客户端 TLS 配置，KeyStore 可选，用于双向认证。
func (o TLSOptions) ClientConfig() (*tls.Config, error) {
	return o.baseConfig()
}

func (o TLSOptions) baseConfig() (*tls.Config, error) {
	minVersion, maxVersion, err := parseProtocols(o.EnableProtocol)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion: minVersion,
		MaxVersion: maxVersion,
	}
	if o.KeyStore != "" {
		cert, err := loadKeyStore(o.KeyStore, o.KeyStorePassword)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if o.TrustStore != "" {
		pool, err := loadTrustStore(o.TrustStore, o.KeyStorePassword)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func loadKeyStore(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, merr.WrapErrConfigKeyStore(path, err)
	}
	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, merr.WrapErrConfigKeyStore(path, err)
	}
	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range chain {
		cert.Certificate = append(cert.Certificate, ca.Raw)
	}
	return cert, nil
}

func loadTrustStore(path, password string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, merr.WrapErrConfigKeyStore(path, err)
	}
	pool := x509.NewCertPool()
	if pool.AppendCertsFromPEM(data) {
		return pool, nil
	}
	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		return nil, merr.WrapErrConfigKeyStore(path, errors.Wrap(err, "neither a PEM bundle nor a PKCS#12 trust store"))
	}
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool, nil
}

var tlsVersions = map[string]uint16{
	"TLSV1":   tls.VersionTLS10,
	"TLSV1.0": tls.VersionTLS10,
	"TLSV1.1": tls.VersionTLS11,
	"TLSV1.2": tls.VersionTLS12,
	"TLSV1.3": tls.VersionTLS13,
}

// parseProtocols 将 "TLSv1.2,TLSv1.3" 解析为版本区间。
func parseProtocols(s string) (minVersion, maxVersion uint16, err error) {
	names := lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.ToUpper(strings.TrimSpace(p))
	}))
	if len(names) == 0 {
		return tls.VersionTLS12, 0, nil
	}
	versions := make([]uint16, 0, len(names))
	for _, name := range names {
		v, ok := tlsVersions[name]
		if !ok {
			return 0, 0, merr.WrapErrConfigInvalid(config.EnableProtocol, s)
		}
		versions = append(versions, v)
	}
	return lo.Min(versions), lo.Max(versions), nil
}
