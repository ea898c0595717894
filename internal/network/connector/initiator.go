package connector

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/internal/network"
	"github.com/lk2023060901/fixgarden-go/internal/network/framer"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/internal/network/transport"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
)

const defaultReconnectInterval = 30 * time.Second

// target 为 Initiator 会话的连接目标。
type target struct {
	m         *managed
	transport transport.Transport
	address   string
	secure    bool
	interval  time.Duration
}

// targetFor 构造会话的连接目标，TLS 配置错误时返回端点错误。
func (c *Connector) targetFor(m *managed, protocol, address string, d *config.Dictionary) (*target, error) {
	interval, err := d.SecondsOr(config.ReconnectInterval, defaultReconnectInterval)
	if err != nil {
		return nil, err
	}
	tlsOpts, secure, err := transport.TLSOptionsFromSettings(d)
	if err != nil {
		return nil, err
	}
	var tlsConfig *tls.Config
	if secure {
		if tlsConfig, err = tlsOpts.ClientConfig(); err != nil {
			return nil, err
		}
	}
	tr, err := c.opts.transports(protocol, tlsConfig)
	if err != nil {
		return nil, err
	}
	return &target{
		m:         m,
		transport: tr,
		address:   address,
		secure:    secure,
		interval:  interval,
	}, nil
}

func (c *Connector) launchConnect(t *target) *conc.Future[struct{}] {
	ctx := c.ctx
	return conc.Go(func() (struct{}, error) {
		c.connectLoop(ctx, t)
		return struct{}{}, nil
	})
}

// connectLoop 为会话的重连循环：会话启用、未连接且处于交易时段时拨号，
// 连接结束后按 ReconnectInterval 等待下一次尝试，直到 ctx 结束。
func (c *Connector) connectLoop(ctx context.Context, t *target) {
	sess := t.m.sess
	logger := c.Logger().With(log.FieldSession(sess.ID()), log.FieldAddress(t.address))
	b := backoff.WithContext(backoff.NewConstantBackOff(t.interval), ctx)

	for {
		if shouldConnect(sess, time.Now()) {
			c.connect(ctx, t, logger)
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Connector) connect(ctx context.Context, t *target, logger *log.MLogger) {
	nc, err := t.transport.Dial(ctx, t.address)
	if err != nil {
		if ctx.Err() == nil {
			logger.Info("connect failed", network.FieldStage(network.StageDial), zap.Error(err), zap.Duration("retryIn", t.interval))
		}
		return
	}
	logger.Info("connected", log.FieldRemote(nc.RemoteAddr()), zap.Bool("secure", t.secure))
	if err := c.run(ctx, t.m, nc, framer.NewReader(nc, nil), nil); err != nil {
		logger.Info("connection closed", zap.Error(err))
	}
}

func shouldConnect(sess *session.Session, now time.Time) bool {
	return sess.IsEnabled() && !sess.IsConnected() && sess.Config().Schedule.IsSessionTime(now)
}
