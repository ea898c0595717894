package framer

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// SOH 为 FIX 字段分隔符。
const SOH byte = 0x01

// ErrNeedMore 表示缓冲区中尚无完整的一帧，需要继续读取。
var ErrNeedMore = errors.New("framer: need more data")

// Framer 抽象了从字节流中切分 FIX 消息帧的能力。
//
// 约定：
//   - 一帧以 "8=" 开头，第二个字段必须为 BodyLength(9)，以 "10=NNN<SOH>" 结尾；
//   - BodyLength 为 9 字段之后到 10 字段之前的字节数；
//   - CheckSum 为 10 字段之前所有字节之和对 256 取模，固定 3 位数字。
type Framer interface {
	// Split 返回 buf 中的第一帧以及应当丢弃的字节数。
	//
	//   - 数据不完整时返回 ErrNeedMore，consumed 为 0；
	//   - 数据损坏时返回分帧错误，consumed 为需要跳过的字节数（总是大于 0）；
	//   - 成功时 frame 引用 buf 的内存，调用方需在复用 buf 前自行拷贝。
	Split(buf []byte) (frame []byte, consumed int, err error)
}

// FIXFramer 为基于 BeginString/BodyLength/CheckSum 的标准分帧实现。
type FIXFramer struct {
	// MaxFrameSize 为允许的最大 BodyLength，单位字节。
	// 为 0 时使用默认值 defaultMaxFrameSize。
	MaxFrameSize int
}

const (
	defaultMaxFrameSize = 1 << 20 // 1MB
	// maxBeginStringLen 为 BeginString 字段值的最大长度，超过视为乱码。
	maxBeginStringLen = 16
	// maxBodyLengthDigits 为 BodyLength 字段值的最大位数。
	maxBodyLengthDigits = 10
	// checksumFieldLen 为 "10=NNN<SOH>" 的长度。
	checksumFieldLen = 7
)

var (
	beginMarker    = []byte("8=")
	sohBeginMarker = []byte{SOH, '8', '='}
	sohChecksum    = []byte{SOH, '1', '0', '='}
)

var _ Framer = (*FIXFramer)(nil)

// NewFIXFramer 创建一个 FIX 分帧器，maxFrameSize 为 0 时使用默认值。
func NewFIXFramer(maxFrameSize int) *FIXFramer {
	if maxFrameSize <= 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	return &FIXFramer{
		MaxFrameSize: maxFrameSize,
	}
}

// Split 实现 Framer。
func (f *FIXFramer) Split(buf []byte) ([]byte, int, error) {
	if len(buf) < len(beginMarker) {
		if len(buf) == 1 && buf[0] != beginMarker[0] {
			return nil, 1, merr.WrapErrFramingGarbled(1)
		}
		return nil, 0, ErrNeedMore
	}
	if !bytes.HasPrefix(buf, beginMarker) {
		skip := resync(buf, 0)
		return nil, skip, merr.WrapErrFramingGarbled(skip)
	}

	// BeginString
	beginEnd := bytes.IndexByte(buf, SOH)
	if beginEnd < 0 {
		if len(buf) > len(beginMarker)+maxBeginStringLen {
			skip := resync(buf, 1)
			return nil, skip, merr.WrapErrFramingGarbled(skip, "BeginString too long")
		}
		return nil, 0, ErrNeedMore
	}

	// BodyLength
	pos := beginEnd + 1
	if len(buf) < pos+2 {
		return nil, 0, ErrNeedMore
	}
	if buf[pos] != '9' || buf[pos+1] != '=' {
		skip := resync(buf, 1)
		return nil, skip, merr.WrapErrFramingGarbled(skip, "BodyLength must be the second field")
	}
	pos += 2
	bodyLength, digits := 0, 0
	for {
		if pos >= len(buf) {
			return nil, 0, ErrNeedMore
		}
		c := buf[pos]
		if c == SOH {
			break
		}
		if c < '0' || c > '9' || digits >= maxBodyLengthDigits {
			skip := resync(buf, 1)
			return nil, skip, merr.WrapErrFramingGarbled(skip, "invalid BodyLength")
		}
		bodyLength = bodyLength*10 + int(c-'0')
		digits++
		pos++
	}
	if digits == 0 {
		skip := resync(buf, 1)
		return nil, skip, merr.WrapErrFramingGarbled(skip, "empty BodyLength")
	}
	if bodyLength > f.effectiveMaxSize() {
		skip := resync(buf, 1)
		return nil, skip, merr.WrapErrFramingTooLarge(bodyLength, f.effectiveMaxSize())
	}

	bodyStart := pos + 1
	bodyEnd := bodyStart + bodyLength
	frameEnd := bodyEnd + checksumFieldLen
	if len(buf) < frameEnd {
		return nil, 0, ErrNeedMore
	}

	if !isChecksumField(buf[bodyEnd:frameEnd]) {
		// 按声明长度找不到 CheckSum，尝试定位真实的消息尾以便整体丢弃。
		idx := bytes.Index(buf[bodyStart-1:], sohChecksum)
		if idx < 0 {
			if len(buf)-bodyStart > f.effectiveMaxSize() {
				skip := resync(buf, 1)
				return nil, skip, merr.WrapErrFramingGarbled(skip, "CheckSum not found")
			}
			return nil, 0, ErrNeedMore
		}
		actualEnd := bodyStart - 1 + idx + 1
		if len(buf) < actualEnd+checksumFieldLen {
			return nil, 0, ErrNeedMore
		}
		return nil, actualEnd + checksumFieldLen, merr.WrapErrFramingBodyLength(bodyLength, actualEnd-bodyStart)
	}

	declared := int(buf[bodyEnd+3]-'0')*100 + int(buf[bodyEnd+4]-'0')*10 + int(buf[bodyEnd+5]-'0')
	if computed := Checksum(buf[:bodyEnd]); computed != declared {
		return nil, frameEnd, merr.WrapErrFramingChecksum(declared, computed)
	}
	return buf[:frameEnd], frameEnd, nil
}

func (f *FIXFramer) effectiveMaxSize() int {
	if f == nil || f.MaxFrameSize <= 0 {
		return defaultMaxFrameSize
	}
	return f.MaxFrameSize
}

// Checksum 计算 FIX 校验和：所有字节之和对 256 取模。
func Checksum(b []byte) int {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

func isChecksumField(b []byte) bool {
	return len(b) == checksumFieldLen &&
		b[0] == '1' && b[1] == '0' && b[2] == '=' &&
		isDigit(b[3]) && isDigit(b[4]) && isDigit(b[5]) &&
		b[6] == SOH
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// resync 返回跳到下一个 "<SOH>8=" 处的字节数，找不到时保留末尾两个字节以防标记被截断。
func resync(buf []byte, from int) int {
	if idx := bytes.Index(buf[from:], sohBeginMarker); idx >= 0 {
		return from + idx + 1
	}
	skip := len(buf) - len(sohBeginMarker) + 1
	if skip < 1 {
		skip = 1
	}
	return skip
}

// Reader 在 io.Reader 之上按帧读取 FIX 消息。Reader 不是并发安全的。
type Reader struct {
	r      io.Reader
	framer Framer
	buf    []byte
	start  int
	end    int
}

const defaultReadBufferSize = 4096

// NewReader 创建一个帧读取器，framer 为 nil 时使用默认 FIXFramer。
func NewReader(r io.Reader, framer Framer) *Reader {
	if framer == nil {
		framer = NewFIXFramer(0)
	}
	return &Reader{
		r:      r,
		framer: framer,
		buf:    make([]byte, defaultReadBufferSize),
	}
}

// ReadFrame 读取下一帧，返回的切片归调用方所有。
//
// 返回分帧错误时，损坏的字节已被丢弃，调用方可以继续调用 ReadFrame。
// 返回底层读取错误（如 io.EOF）时，Reader 不再可用。
func (rd *Reader) ReadFrame() ([]byte, error) {
	for {
		if rd.end > rd.start {
			frame, consumed, err := rd.framer.Split(rd.buf[rd.start:rd.end])
			switch {
			case err == nil:
				out := make([]byte, len(frame))
				copy(out, frame)
				rd.start += consumed
				return out, nil
			case !errors.Is(err, ErrNeedMore):
				rd.start += consumed
				return nil, err
			}
		}
		if err := rd.fill(); err != nil {
			return nil, err
		}
	}
}

// Buffered 返回尚未切分的字节数。
func (rd *Reader) Buffered() int {
	return rd.end - rd.start
}

func (rd *Reader) fill() error {
	if rd.start > 0 {
		n := copy(rd.buf, rd.buf[rd.start:rd.end])
		rd.start, rd.end = 0, n
	}
	if rd.end == len(rd.buf) {
		grown := make([]byte, len(rd.buf)*2)
		copy(grown, rd.buf[:rd.end])
		rd.buf = grown
	}
	n, err := rd.r.Read(rd.buf[rd.end:])
	rd.end += n
	if n > 0 {
		return nil
	}
	if err == nil {
		return io.ErrNoProgress
	}
	return err
}
