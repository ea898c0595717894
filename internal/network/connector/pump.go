package connector

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network"
	"github.com/lk2023060901/fixgarden-go/internal/network/framer"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
)

// run 将连接绑定到会话并驱动收发，直到连接关闭。first 为路由时已读取的首条消息。
//
// 事件顺序：Connected -> EventConnected -> EventMessage... -> EventDisconnected -> Disconnected，
// 保证处理协程在连接结束后仍能看到断开事件。
func (c *Connector) run(ctx context.Context, m *managed, nc net.Conn, rd *framer.Reader, first *fix.Message) error {
	sess := m.sess
	cn := newConn(nc, c.role, sess.ID(), m.conn)
	if err := sess.Attach(cn); err != nil {
		cn.Disconnect(err)
		cn.Wait()
		return err
	}
	c.conns.Insert(cn)
	defer c.conns.Remove(cn)
	if ctx.Err() != nil {
		cn.Disconnect(errors.New(stopReason))
	}

	c.strategy.Connected(sess)
	cause := c.pump(ctx, cn, sess, rd, first)
	cn.Disconnect(cause)
	cn.Wait()

	if reason := cn.Cause(); reason != nil {
		cause = reason
	}
	ev := session.Event{Kind: session.EventDisconnected, Responder: cn, Err: cause}
	if err := c.strategy.Dispatch(context.Background(), sess, ev); err != nil {
		cn.logger.Warn("failed to dispatch disconnect", network.FieldStage(network.StageDispatch), zap.Error(err))
	}
	c.strategy.Disconnected(sess)
	return cause
}

// pump 将连接上读到的消息依次投递给会话，返回连接结束的原因，对端或本端正常关闭时为 nil。
func (c *Connector) pump(ctx context.Context, cn *conn, sess *session.Session, rd *framer.Reader, first *fix.Message) error {
	dispatch := func(ev session.Event) error {
		if err := c.strategy.Dispatch(ctx, sess, ev); err != nil {
			return errors.Wrap(err, "dispatch")
		}
		return nil
	}
	if err := dispatch(session.Event{Kind: session.EventConnected, Responder: cn}); err != nil {
		return err
	}
	if first != nil {
		if err := dispatch(session.Event{Kind: session.EventMessage, Msg: first, Responder: cn}); err != nil {
			return err
		}
	}
	for {
		msg, err := readMessage(rd, c.opts.codec, c.role, cn.logger, cn.opts.disconnectOnFramingError)
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return err
		}
		if err := dispatch(session.Event{Kind: session.EventMessage, Msg: msg, Responder: cn}); err != nil {
			return err
		}
	}
}
