package fix

import (
	"strings"
)

// Message 为一条 FIX 消息，由消息头、消息体和消息尾三部分组成。
type Message struct {
	Header  FieldMap
	Body    FieldMap
	Trailer FieldMap

	// raw 为解码时的原始字节，编码生成的消息为空。
	raw []byte
}

// NewMessage 创建指定 MsgType 的消息。
func NewMessage(msgType string) *Message {
	m := &Message{}
	m.Header.Set(TagMsgType, msgType)
	return m
}

// NewMessageFromRaw 创建携带原始字节的空消息，供解码器填充字段。
func NewMessageFromRaw(raw []byte) *Message {
	return &Message{raw: raw}
}

// MsgType 返回消息类型，缺失时返回空串。
func (m *Message) MsgType() string {
	v, _ := m.Header.Get(TagMsgType)
	return v
}

// IsAdmin 判断是否为会话层管理消息。
func (m *Message) IsAdmin() bool {
	return IsAdminMsgType(m.MsgType())
}

// SeqNum 返回 MsgSeqNum。
func (m *Message) SeqNum() (int, error) {
	return m.Header.GetInt(TagMsgSeqNum)
}

// IsPossDup 判断 PossDupFlag 是否为 Y。
func (m *Message) IsPossDup() bool {
	return m.Header.BoolOr(TagPossDupFlag, false)
}

// Raw 返回解码时的原始字节。
func (m *Message) Raw() []byte {
	return m.raw
}

// Add 将字段按 tag 归类追加到消息头、消息体或消息尾，解码时使用。
func (m *Message) Add(tag Tag, value string) {
	switch {
	case IsHeaderTag(tag):
		m.Header.Add(tag, value)
	case IsTrailerTag(tag):
		m.Trailer.Add(tag, value)
	default:
		m.Body.Add(tag, value)
	}
}

// Clone 深拷贝消息，不包含原始字节。
func (m *Message) Clone() *Message {
	return &Message{
		Header:  m.Header.clone(),
		Body:    m.Body.clone(),
		Trailer: m.Trailer.clone(),
	}
}

// String 以 '|' 作为分隔符渲染消息，便于日志输出。
func (m *Message) String() string {
	if len(m.raw) > 0 {
		return strings.ReplaceAll(string(m.raw), "\x01", "|")
	}
	var sb strings.Builder
	for _, part := range []*FieldMap{&m.Header, &m.Body, &m.Trailer} {
		for _, f := range part.fields {
			sb.WriteString(f.Tag.String())
			sb.WriteByte('=')
			sb.WriteString(f.Value)
			sb.WriteByte('|')
		}
	}
	return sb.String()
}

// ResetTrailer 清空消息尾，重新编码前使用。
func (m *Message) ResetTrailer() {
	m.Trailer.reset()
}

// ClearRaw 丢弃原始字节，字段修改后需调用以保证 String 输出最新内容。
func (m *Message) ClearRaw() {
	m.raw = nil
}
