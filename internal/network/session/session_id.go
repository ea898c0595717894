package session

import (
	"strings"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// Wildcard 为模板会话中匹配任意值的占位符。
const Wildcard = "*"

// SessionID 唯一标识一个 FIX 会话，可直接作为 map 的 key。
//
// Sender* 字段始终表示本端，Target* 字段表示对端。
type SessionID struct {
	BeginString      string
	SenderCompID     string
	SenderSubID      string
	SenderLocationID string
	TargetCompID     string
	TargetSubID      string
	TargetLocationID string
	Qualifier        string
}

// String 返回形如 "FIX.4.2:SENDER->TARGET" 的可读表示。
func (id SessionID) String() string {
	var b strings.Builder
	b.WriteString(id.BeginString)
	b.WriteByte(':')
	writeParty(&b, id.SenderCompID, id.SenderSubID, id.SenderLocationID)
	b.WriteString("->")
	writeParty(&b, id.TargetCompID, id.TargetSubID, id.TargetLocationID)
	if id.Qualifier != "" {
		b.WriteByte(':')
		b.WriteString(id.Qualifier)
	}
	return b.String()
}

func writeParty(b *strings.Builder, comp, sub, loc string) {
	b.WriteString(comp)
	if sub != "" {
		b.WriteByte('/')
		b.WriteString(sub)
	}
	if loc != "" {
		b.WriteByte('/')
		b.WriteString(loc)
	}
}

// Reverse 交换发送方与接收方。
func (id SessionID) Reverse() SessionID {
	return SessionID{
		BeginString:      id.BeginString,
		SenderCompID:     id.TargetCompID,
		SenderSubID:      id.TargetSubID,
		SenderLocationID: id.TargetLocationID,
		TargetCompID:     id.SenderCompID,
		TargetSubID:      id.SenderSubID,
		TargetLocationID: id.SenderLocationID,
		Qualifier:        id.Qualifier,
	}
}

// IsWildcard 判断是否包含通配字段。
func (id SessionID) IsWildcard() bool {
	for _, v := range id.fields() {
		if v == Wildcard {
			return true
		}
	}
	return false
}

// Matches 判断模板 id 能否匹配具体会话 other。
// 模板中的通配字段匹配任意值，Qualifier 不参与匹配。
func (id SessionID) Matches(other SessionID) bool {
	a, b := id.fields(), other.fields()
	for i := range a {
		if a[i] != Wildcard && a[i] != b[i] {
			return false
		}
	}
	return true
}

// Resolve 以具体会话 other 的值替换模板中的通配字段。
func (id SessionID) Resolve(other SessionID) SessionID {
	pick := func(tmpl, v string) string {
		if tmpl == Wildcard {
			return v
		}
		return tmpl
	}
	return SessionID{
		BeginString:      pick(id.BeginString, other.BeginString),
		SenderCompID:     pick(id.SenderCompID, other.SenderCompID),
		SenderSubID:      pick(id.SenderSubID, other.SenderSubID),
		SenderLocationID: pick(id.SenderLocationID, other.SenderLocationID),
		TargetCompID:     pick(id.TargetCompID, other.TargetCompID),
		TargetSubID:      pick(id.TargetSubID, other.TargetSubID),
		TargetLocationID: pick(id.TargetLocationID, other.TargetLocationID),
	}
}

func (id SessionID) fields() [7]string {
	return [7]string{
		id.BeginString,
		id.SenderCompID, id.SenderSubID, id.SenderLocationID,
		id.TargetCompID, id.TargetSubID, id.TargetLocationID,
	}
}

// InboundSessionID 由对端发来的消息头推导出本端视角的 SessionID。
func InboundSessionID(msg *fix.Message) SessionID {
	get := func(tag fix.Tag) string {
		v, _ := msg.Header.Get(tag)
		return v
	}
	return SessionID{
		BeginString:      get(fix.TagBeginString),
		SenderCompID:     get(fix.TagTargetCompID),
		SenderSubID:      get(fix.TagTargetSubID),
		SenderLocationID: get(fix.TagTargetLocationID),
		TargetCompID:     get(fix.TagSenderCompID),
		TargetSubID:      get(fix.TagSenderSubID),
		TargetLocationID: get(fix.TagSenderLocationID),
	}
}

// SessionIDFromSettings 从会话配置中读取 SessionID。
func SessionIDFromSettings(d *config.Dictionary) (SessionID, error) {
	id := SessionID{
		SenderSubID:      d.StringOr(config.SenderSubID, ""),
		SenderLocationID: d.StringOr(config.SenderLocationID, ""),
		TargetSubID:      d.StringOr(config.TargetSubID, ""),
		TargetLocationID: d.StringOr(config.TargetLocationID, ""),
		Qualifier:        d.StringOr(config.SessionQualifier, ""),
	}
	var err error
	if id.BeginString, err = requireString(d, config.BeginString); err != nil {
		return SessionID{}, err
	}
	if id.SenderCompID, err = requireString(d, config.SenderCompID); err != nil {
		return SessionID{}, err
	}
	if id.TargetCompID, err = requireString(d, config.TargetCompID); err != nil {
		return SessionID{}, err
	}
	return id, nil
}

func requireString(d *config.Dictionary, key string) (string, error) {
	v, err := d.String(key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(v) == "" {
		return "", merr.WrapErrConfigMissing(key, d.Name())
	}
	return v, nil
}
