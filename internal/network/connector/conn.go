package connector

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network"
	"github.com/lk2023060901/fixgarden-go/internal/network/codec"
	"github.com/lk2023060901/fixgarden-go/internal/network/framer"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/metrics"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

const (
	defaultOutboundQueueSize = 1024
	// defaultWriteTimeout 为未配置写超时时单次写出与等待写队列的上限。
	defaultWriteTimeout = 5 * time.Second
	// maxCoalesceBytes 为 sendLoop 单次合并写出的字节上限。
	maxCoalesceBytes = 64 << 10
	// flushTimeout 为断开前写出队列中剩余消息的最长时间。
	flushTimeout = time.Second
)

// connOptions 为单条连接的参数，来自会话配置。
type connOptions struct {
	queueSize                int
	writeTimeout             time.Duration
	disconnectOnFramingError bool
}

// conn 为一条传输连接，实现 session.Responder。
//
// Send 只将已编码的消息放入有界队列，由 sendLoop 合并积压的消息后统一写出；
// Disconnect 只通知 sendLoop，sendLoop 尽力写出剩余消息后关闭底层连接，
// 保证 Logout 等最后一条消息先于关闭到达对端。
type conn struct {
	nc     net.Conn
	role   Role
	opts   connOptions
	logger *log.MLogger

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	cause     atomic.Error
	sender    *conc.Future[struct{}]
}

var _ session.Responder = (*conn)(nil)

func newConn(nc net.Conn, role Role, id session.SessionID, opts connOptions) *conn {
	if opts.queueSize <= 0 {
		opts.queueSize = defaultOutboundQueueSize
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}
	logger := log.With(log.FieldComponent(role.String()), log.FieldSession(id), log.FieldRemote(nc.RemoteAddr()))
	cn := &conn{
		nc:     nc,
		role:   role,
		opts:   opts,
		logger: logger,
		queue:  make(chan []byte, opts.queueSize),
		done:   make(chan struct{}),
	}
	metrics.Connections.WithLabelValues(role.String()).Inc()
	cn.sender = conc.Go(func() (struct{}, error) {
		cn.sendLoop()
		return struct{}{}, nil
	})
	return cn
}

func (c *conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Send 将消息放入写队列。队列满时最多等待写超时，超时后断开连接并返回 ErrOutboundQueueFull，
// 避免对端停止读取时调用方无限阻塞。
func (c *conn) Send(raw []byte) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	select {
	case c.queue <- raw:
		return nil
	default:
	}

	timer := time.NewTimer(c.opts.writeTimeout)
	defer timer.Stop()
	select {
	case c.queue <- raw:
		return nil
	case <-c.done:
		return c.closedErr()
	case <-timer.C:
		err := merr.WrapErrOutboundQueueFull(c.RemoteAddr().String(), cap(c.queue))
		c.logger.Warn("outbound queue stalled, closing connection", network.FieldStage(network.StageSend), zap.Error(err))
		c.Disconnect(err)
		return err
	}
}

// Disconnect 关闭连接，多次调用只有第一次生效。
func (c *conn) Disconnect(reason error) {
	c.closeOnce.Do(func() {
		if reason != nil {
			c.cause.Store(reason)
		}
		close(c.done)
		// 解除可能阻塞中的写操作。
		_ = c.nc.SetWriteDeadline(time.Now().Add(flushTimeout))
	})
}

// Wait 等待写协程退出，此时底层连接已经关闭。
func (c *conn) Wait() {
	_, _ = c.sender.Await()
}

// Cause 返回断开原因。
func (c *conn) Cause() error {
	return c.cause.Load()
}

func (c *conn) closedErr() error {
	return errors.Wrapf(merr.ErrTransportClosed, "connection to %s", c.RemoteAddr())
}

func (c *conn) sendLoop() {
	defer func() {
		_ = c.nc.Close()
		metrics.Connections.WithLabelValues(c.role.String()).Dec()
	}()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for {
		select {
		case raw := <-c.queue:
			buf.Reset()
			_, _ = buf.Write(raw)
			c.coalesce(buf)
			if err := c.write(buf.B, c.opts.writeTimeout); err != nil {
				c.logger.Info("write failed, closing connection", network.FieldStage(network.StageSend), zap.Error(err))
				c.Disconnect(err)
				return
			}
		case <-c.done:
			buf.Reset()
			c.coalesce(buf)
			if buf.Len() > 0 {
				if err := c.write(buf.B, flushTimeout); err != nil {
					c.logger.Debug("failed to flush pending messages", network.FieldStage(network.StageSend), zap.Error(err))
				}
			}
			return
		}
	}
}

// coalesce 非阻塞地将队列中积压的消息追加到 buf。
func (c *conn) coalesce(buf *bytebufferpool.ByteBuffer) {
	for buf.Len() < maxCoalesceBytes {
		select {
		case raw := <-c.queue:
			_, _ = buf.Write(raw)
		default:
			return
		}
	}
}

func (c *conn) write(b []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := c.nc.Write(b)
	return err
}

// readMessage 读取下一条可解析的消息。分帧错误按策略丢弃或返回；
// 对端正常关闭时返回 io.EOF。
func readMessage(rd *framer.Reader, c codec.Codec, role Role, logger *log.MLogger, disconnectOnFramingError bool) (*fix.Message, error) {
	for {
		frame, err := rd.ReadFrame()
		if err == nil {
			var msg *fix.Message
			msg, err = c.DecodeFrame(frame)
			if err == nil {
				return msg, nil
			}
		}
		if !merr.IsFramingErr(err) {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		metrics.FramingErrors.WithLabelValues(role.String()).Inc()
		logger.RatedWarn(1, "dropping malformed data", network.FieldStage(network.StageDecode), zap.Error(err))
		if disconnectOnFramingError {
			return nil, err
		}
	}
}

// isClosedErr 判断读取错误是否由连接关闭引起。
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
