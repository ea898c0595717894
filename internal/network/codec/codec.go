package codec

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/valyala/bytebufferpool"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network/framer"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// Codec 抽象了 FIX 消息与字节之间的编解码流程。
//
// Pipeline（写出 Encode）：
//
//	msg --> 规范化消息头（8,9,35 在前）--> 计算 BodyLength --> 计算 CheckSum --> bytes
//
// Pipeline（读入 Decode）：
//
//	bytes --> framer.Split（帧边界、BodyLength、CheckSum 校验）--> 字段切分 --> msg
type Codec interface {
	// Decode 从 buf 中解析第一条完整消息。
	//
	//   - 数据不完整时返回 framer.ErrNeedMore，consumed 为 0；
	//   - 数据损坏时返回分帧错误，consumed 为需要丢弃的字节数；
	//   - 成功时返回消息与本条消息占用的字节数。
	Decode(buf []byte) (msg *fix.Message, consumed int, err error)

	// DecodeFrame 解析一条已经由 framer 切分并校验过的完整帧。
	DecodeFrame(frame []byte) (*fix.Message, error)

	// Encode 将消息编码为字节，总是重新计算 BodyLength 与 CheckSum 并回写到 msg。
	Encode(msg *fix.Message) ([]byte, error)
}

// Options 用于构造 Codec 的依赖注入参数。
type Options struct {
	Framer framer.Framer // 允许为 nil（内部会用默认 FIXFramer）
}

type codec struct {
	framer framer.Framer
}

var _ Codec = (*codec)(nil)

// New 创建一个基于给定依赖的 Codec。
func New(opts Options) (Codec, error) {
	f := opts.Framer
	if f == nil {
		f = framer.NewFIXFramer(0)
	}
	return &codec{framer: f}, nil
}

// Default 返回使用默认分帧器的 Codec。
func Default() Codec {
	c, _ := New(Options{})
	return c
}

func (c *codec) Decode(buf []byte) (*fix.Message, int, error) {
	frame, consumed, err := c.framer.Split(buf)
	if err != nil {
		return nil, consumed, err
	}
	msg, err := c.DecodeFrame(frame)
	if err != nil {
		return nil, consumed, err
	}
	return msg, consumed, nil
}

func (c *codec) DecodeFrame(frame []byte) (*fix.Message, error) {
	raw := make([]byte, len(frame))
	copy(raw, frame)
	msg := fix.NewMessageFromRaw(raw)

	rest := raw
	for len(rest) > 0 {
		end := bytes.IndexByte(rest, framer.SOH)
		if end < 0 {
			return nil, merr.WrapErrFramingMalformedTag(string(rest))
		}
		field := rest[:end]
		rest = rest[end+1:]

		eq := bytes.IndexByte(field, '=')
		if eq <= 0 {
			return nil, merr.WrapErrFramingMalformedTag(string(field))
		}
		tag, err := strconv.Atoi(string(field[:eq]))
		if err != nil || tag <= 0 {
			return nil, merr.WrapErrFramingMalformedTag(string(field))
		}
		msg.Add(fix.Tag(tag), string(field[eq+1:]))
	}
	return msg, nil
}

func (c *codec) Encode(msg *fix.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("codec: message is nil")
	}
	beginString, err := msg.Header.GetString(fix.TagBeginString)
	if err != nil {
		return nil, err
	}
	msgType, err := msg.Header.GetString(fix.TagMsgType)
	if err != nil {
		return nil, err
	}

	body := bytebufferpool.Get()
	defer bytebufferpool.Put(body)

	writeField(body, fix.TagMsgType, msgType)
	headerRest := make([]fix.Field, 0, msg.Header.Len())
	for _, f := range msg.Header.Fields() {
		switch f.Tag {
		case fix.TagBeginString, fix.TagBodyLength, fix.TagMsgType:
			continue
		}
		headerRest = append(headerRest, f)
		writeField(body, f.Tag, f.Value)
	}
	for _, f := range msg.Body.Fields() {
		writeField(body, f.Tag, f.Value)
	}
	trailerRest := make([]fix.Field, 0, msg.Trailer.Len())
	for _, f := range msg.Trailer.Fields() {
		if f.Tag == fix.TagCheckSum {
			continue
		}
		trailerRest = append(trailerRest, f)
		writeField(body, f.Tag, f.Value)
	}

	bodyLength := strconv.Itoa(body.Len())

	out := bytebufferpool.Get()
	defer bytebufferpool.Put(out)
	writeField(out, fix.TagBeginString, beginString)
	writeField(out, fix.TagBodyLength, bodyLength)
	_, _ = out.Write(body.B)
	checksum := fmt.Sprintf("%03d", framer.Checksum(out.B))
	writeField(out, fix.TagCheckSum, checksum)

	// 回写规范化后的消息头与消息尾，保证 Decode(Encode(m)) 与 m 逐字段相等。
	msg.Header = fix.FieldMap{}
	msg.Header.Add(fix.TagBeginString, beginString)
	msg.Header.Add(fix.TagBodyLength, bodyLength)
	msg.Header.Add(fix.TagMsgType, msgType)
	for _, f := range headerRest {
		msg.Header.Add(f.Tag, f.Value)
	}
	msg.Trailer = fix.FieldMap{}
	for _, f := range trailerRest {
		msg.Trailer.Add(f.Tag, f.Value)
	}
	msg.Trailer.Add(fix.TagCheckSum, checksum)
	msg.ClearRaw()

	encoded := make([]byte, out.Len())
	copy(encoded, out.B)
	return encoded, nil
}

func writeField(buf *bytebufferpool.ByteBuffer, tag fix.Tag, value string) {
	_, _ = buf.WriteString(strconv.Itoa(int(tag)))
	_ = buf.WriteByte('=')
	_, _ = buf.WriteString(value)
	_ = buf.WriteByte(framer.SOH)
}
