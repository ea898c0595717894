package framer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// buildFrame 以 '|' 书写字段，自动补全 9 与 10 字段。
func buildFrame(beginString, body string) []byte {
	b := strings.ReplaceAll(body, "|", "\x01")
	head := fmt.Sprintf("8=%s\x019=%d\x01", beginString, len(b))
	prefix := head + b
	return []byte(fmt.Sprintf("%s10=%03d\x01", prefix, Checksum([]byte(prefix))))
}

func TestSplitCompleteFrame(t *testing.T) {
	frame := buildFrame("FIX.4.2", "35=0|49=A|56=B|34=1|")
	f := NewFIXFramer(0)

	got, consumed, err := f.Split(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), consumed)
	assert.Equal(t, frame, got)
}

func TestSplitPartialInput(t *testing.T) {
	frame := buildFrame("FIX.4.2", "35=0|49=A|56=B|34=1|")
	f := NewFIXFramer(0)
	for i := 0; i < len(frame); i++ {
		_, consumed, err := f.Split(frame[:i])
		if i == 1 {
			// "8" 可能是帧头的一部分。
			assert.ErrorIs(t, err, ErrNeedMore)
			continue
		}
		assert.ErrorIs(t, err, ErrNeedMore, "prefix len %d", i)
		assert.Zero(t, consumed)
	}
}

func TestSplitTwoFrames(t *testing.T) {
	first := buildFrame("FIX.4.4", "35=1|112=abc|")
	second := buildFrame("FIX.4.4", "35=0|112=abc|")
	buf := append(append([]byte{}, first...), second...)

	f := NewFIXFramer(0)
	got, consumed, err := f.Split(buf)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, _, err = f.Split(buf[consumed:])
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestSplitBadChecksum(t *testing.T) {
	frame := buildFrame("FIX.4.2", "35=0|")
	if frame[len(frame)-2] == '9' {
		frame[len(frame)-2] = '0'
	} else {
		frame[len(frame)-2] = '9'
	}
	_, consumed, err := NewFIXFramer(0).Split(frame)
	assert.ErrorIs(t, err, merr.ErrFramingChecksum)
	assert.Equal(t, len(frame), consumed)
}

func TestSplitBadBodyLength(t *testing.T) {
	body := "35=0\x0149=A\x01"
	prefix := fmt.Sprintf("8=FIX.4.2\x019=%d\x01%s", len(body)+3, body)
	frame := []byte(fmt.Sprintf("%s10=%03d\x01trailing", prefix, Checksum([]byte(prefix))))

	_, consumed, err := NewFIXFramer(0).Split(frame)
	assert.ErrorIs(t, err, merr.ErrFramingBodyLength)
	assert.Equal(t, len(frame)-len("trailing"), consumed)
}

func TestSplitGarbledPrefix(t *testing.T) {
	frame := buildFrame("FIX.4.2", "35=0|")
	buf := append([]byte("junk\x01"), frame...)

	f := NewFIXFramer(0)
	_, consumed, err := f.Split(buf)
	assert.ErrorIs(t, err, merr.ErrFramingGarbled)
	assert.Equal(t, len("junk\x01"), consumed)

	got, _, err := f.Split(buf[consumed:])
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestSplitTooLarge(t *testing.T) {
	frame := buildFrame("FIX.4.2", "35=0|58="+strings.Repeat("x", 64)+"|")
	_, consumed, err := NewFIXFramer(16).Split(frame)
	assert.ErrorIs(t, err, merr.ErrFramingTooLarge)
	assert.Greater(t, consumed, 0)
}

func TestSplitSecondFieldNotBodyLength(t *testing.T) {
	_, consumed, err := NewFIXFramer(0).Split([]byte("8=FIX.4.2\x0135=0\x01"))
	assert.ErrorIs(t, err, merr.ErrFramingGarbled)
	assert.Greater(t, consumed, 0)
}

// slowReader 每次只返回一个字节。
type slowReader struct {
	r io.Reader
}

func (s slowReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return s.r.Read(p[:1])
}

func TestReaderStreamsFrames(t *testing.T) {
	frames := [][]byte{
		buildFrame("FIX.4.2", "35=A|98=0|108=30|"),
		buildFrame("FIX.4.2", "35=0|"),
		buildFrame("FIX.4.2", "35=5|58="+strings.Repeat("y", 5000)+"|"),
	}
	var stream bytes.Buffer
	stream.Write(frames[0])
	stream.WriteString("garbage")
	stream.Write(frames[1])
	stream.Write(frames[2])

	rd := NewReader(slowReader{r: &stream}, nil)
	got, err := rd.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frames[0], got)

	var framingErrs int
	for {
		got, err = rd.ReadFrame()
		if err == nil {
			break
		}
		require.True(t, merr.IsFramingErr(err), "unexpected error %v", err)
		framingErrs++
	}
	assert.Greater(t, framingErrs, 0)
	assert.Equal(t, frames[1], got)

	got, err = rd.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frames[2], got)

	_, err = rd.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, 0, Checksum(nil))
	assert.Equal(t, 66, Checksum([]byte{0x01, 'A'}))
	assert.Equal(t, 44, Checksum([]byte{0xFF, 0x2D}))
}
