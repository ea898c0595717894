package connector

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network/codec"
	"github.com/lk2023060901/fixgarden-go/internal/network/framer"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

var connTestID = session.SessionID{BeginString: fix.BeginStringFIX42, SenderCompID: "EXEC", TargetCompID: "BANZAI"}

// blockingConn 的 Write 在 release 关闭前一直阻塞，且忽略写超时。
type blockingConn struct {
	net.Conn

	release chan struct{}
	writing atomic.Int32
	closed  atomic.Bool

	mu  sync.Mutex
	buf bytes.Buffer
}

func newBlockingConn() *blockingConn {
	return &blockingConn{release: make(chan struct{})}
}

func (c *blockingConn) Write(b []byte) (int, error) {
	c.writing.Inc()
	<-c.release
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(b)
}

func (c *blockingConn) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *blockingConn) SetWriteDeadline(time.Time) error { return nil }

func (c *blockingConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *blockingConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9880}
}

// rawFrame 以 '|' 书写字段，自动补全 8、9 与 10 字段。
func rawFrame(body string, checksumDelta int) []byte {
	b := strings.ReplaceAll(body, "|", "\x01")
	prefix := fmt.Sprintf("8=%s\x019=%d\x01%s", fix.BeginStringFIX42, len(b), b)
	return []byte(fmt.Sprintf("%s10=%03d\x01", prefix, (framer.Checksum([]byte(prefix))+checksumDelta)%256))
}

type ConnSuite struct {
	suite.Suite
}

func (s *ConnSuite) TestSendQueueFullDisconnects() {
	nc := newBlockingConn()
	cn := newConn(nc, RoleAcceptor, connTestID, connOptions{queueSize: 1, writeTimeout: 20 * time.Millisecond})

	s.NoError(cn.Send([]byte("first")))
	s.Eventually(func() bool { return nc.writing.Load() == 1 }, time.Second, time.Millisecond)
	s.NoError(cn.Send([]byte("second")))

	start := time.Now()
	s.ErrorIs(cn.Send([]byte("third")), merr.ErrOutboundQueueFull)
	s.Less(time.Since(start), time.Second)
	s.ErrorIs(cn.Cause(), merr.ErrOutboundQueueFull)
	s.ErrorIs(cn.Send([]byte("late")), merr.ErrTransportClosed)

	close(nc.release)
	cn.Wait()
	s.Equal("firstsecond", nc.written())
	s.True(nc.closed.Load())
}

func (s *ConnSuite) TestDefaultWriteTimeout() {
	server, client := net.Pipe()
	defer client.Close()
	cn := newConn(server, RoleAcceptor, connTestID, connOptions{})
	s.Equal(defaultWriteTimeout, cn.opts.writeTimeout)
	s.Equal(defaultOutboundQueueSize, cap(cn.queue))
	cn.Disconnect(nil)
	cn.Wait()
}

func (s *ConnSuite) TestStalledPeerWriteTimesOut() {
	// client 从不读取，net.Pipe 的写出在写超时后失败。
	server, client := net.Pipe()
	defer client.Close()
	cn := newConn(server, RoleAcceptor, connTestID, connOptions{writeTimeout: 50 * time.Millisecond})

	s.NoError(cn.Send([]byte("never read")))
	done := conc.Go(func() (struct{}, error) {
		cn.Wait()
		return struct{}{}, nil
	})
	s.Eventually(done.Done, time.Second, time.Millisecond)
	s.Error(cn.Cause())
	s.ErrorIs(cn.Send([]byte("late")), merr.ErrTransportClosed)
}

func (s *ConnSuite) TestDisconnectFlushesPending() {
	server, client := net.Pipe()
	cn := newConn(server, RoleInitiator, connTestID, connOptions{})
	for _, frame := range []string{"a", "b", "c"} {
		s.NoError(cn.Send([]byte(frame)))
	}
	read := conc.Go(func() ([]byte, error) {
		return io.ReadAll(client)
	})

	cn.Disconnect(errors.New("bye"))
	cn.Disconnect(errors.New("ignored"))
	cn.Wait()

	data, err := read.Await()
	s.NoError(err)
	s.Equal("abc", string(data))
	s.EqualError(cn.Cause(), "bye")
}

func (s *ConnSuite) TestReadMessageSkipsMalformedFrames() {
	valid := rawFrame("35=0|49=BANZAI|56=EXEC|34=2|", 0)
	input := append(rawFrame("35=0|49=BANZAI|56=EXEC|34=1|", 1), valid...)
	logger := log.With(log.FieldComponent("test"))

	rd := framer.NewReader(bytes.NewReader(input), nil)
	msg, err := readMessage(rd, codec.Default(), RoleAcceptor, logger, false)
	s.Require().NoError(err)
	seq, err := msg.SeqNum()
	s.NoError(err)
	s.Equal(2, seq)

	_, err = readMessage(rd, codec.Default(), RoleAcceptor, logger, false)
	s.ErrorIs(err, io.EOF)
	s.True(isClosedErr(err))
}

func (s *ConnSuite) TestReadMessageDisconnectOnFramingError() {
	input := rawFrame("35=0|49=BANZAI|56=EXEC|34=1|", 1)
	rd := framer.NewReader(bytes.NewReader(input), nil)
	_, err := readMessage(rd, codec.Default(), RoleAcceptor, log.With(log.FieldComponent("test")), true)
	s.ErrorIs(err, merr.ErrFramingChecksum)
	s.True(merr.IsFramingErr(err))
	s.False(isClosedErr(err))
}

func TestConn(t *testing.T) {
	suite.Run(t, new(ConnSuite))
}
