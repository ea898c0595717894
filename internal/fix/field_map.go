package fix

import (
	"strconv"
	"time"

	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// SendingTime 等 UTCTimestamp 字段的格式。
const (
	TimestampMillisLayout = "20060102-15:04:05.000"
	TimestampLayout       = "20060102-15:04:05"
)

// Field 为一个 tag=value 字段。
type Field struct {
	Tag   Tag
	Value string
}

// FieldMap 为有序字段集合，保留字段出现的顺序并允许重复 tag（重复组）。
// FieldMap 不是并发安全的。
type FieldMap struct {
	fields []Field
}

// Len 返回字段数量。
func (m *FieldMap) Len() int {
	return len(m.fields)
}

// Fields 返回字段切片的拷贝。
func (m *FieldMap) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Add 在末尾追加一个字段，不检查重复。
func (m *FieldMap) Add(tag Tag, value string) {
	m.fields = append(m.fields, Field{Tag: tag, Value: value})
}

// Set 设置字段值：已存在时覆盖第一个同名字段，否则追加。
func (m *FieldMap) Set(tag Tag, value string) {
	for i := range m.fields {
		if m.fields[i].Tag == tag {
			m.fields[i].Value = value
			return
		}
	}
	m.Add(tag, value)
}

func (m *FieldMap) SetInt(tag Tag, value int) {
	m.Set(tag, strconv.Itoa(value))
}

func (m *FieldMap) SetBool(tag Tag, value bool) {
	if value {
		m.Set(tag, "Y")
		return
	}
	m.Set(tag, "N")
}

// SetTime 以毫秒精度的 UTC 时间写入字段。
func (m *FieldMap) SetTime(tag Tag, value time.Time) {
	m.Set(tag, value.UTC().Format(TimestampMillisLayout))
}

// Has 判断字段是否存在。
func (m *FieldMap) Has(tag Tag) bool {
	_, ok := m.Get(tag)
	return ok
}

// Get 返回第一个同名字段的值。
func (m *FieldMap) Get(tag Tag) (string, bool) {
	for i := range m.fields {
		if m.fields[i].Tag == tag {
			return m.fields[i].Value, true
		}
	}
	return "", false
}

// Remove 删除所有同名字段。
func (m *FieldMap) Remove(tag Tag) {
	kept := m.fields[:0]
	for _, f := range m.fields {
		if f.Tag != tag {
			kept = append(kept, f)
		}
	}
	m.fields = kept
}

// GetString 返回字段值，字段不存在时返回 ErrFieldNotFound。
func (m *FieldMap) GetString(tag Tag) (string, error) {
	v, ok := m.Get(tag)
	if !ok {
		return "", merr.WrapErrFieldNotFound(int(tag))
	}
	return v, nil
}

// GetInt 解析整型字段。
func (m *FieldMap) GetInt(tag Tag) (int, error) {
	v, err := m.GetString(tag)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, merr.WrapErrIncorrectDataFormat(int(tag), v)
	}
	return n, nil
}

// GetBool 解析 Y/N 字段。
func (m *FieldMap) GetBool(tag Tag) (bool, error) {
	v, err := m.GetString(tag)
	if err != nil {
		return false, err
	}
	switch v {
	case "Y":
		return true, nil
	case "N":
		return false, nil
	}
	return false, merr.WrapErrIncorrectDataFormat(int(tag), v)
}

// GetTime 解析 UTCTimestamp 字段，支持秒与毫秒精度。
func (m *FieldMap) GetTime(tag Tag) (time.Time, error) {
	v, err := m.GetString(tag)
	if err != nil {
		return time.Time{}, err
	}
	layout := TimestampLayout
	if len(v) > len(TimestampLayout) {
		layout = TimestampMillisLayout
	}
	t, err := time.ParseInLocation(layout, v, time.UTC)
	if err != nil {
		return time.Time{}, merr.WrapErrIncorrectDataFormat(int(tag), v)
	}
	return t, nil
}

// BoolOr 返回 Y/N 字段值，缺失或格式错误时返回 def。
func (m *FieldMap) BoolOr(tag Tag, def bool) bool {
	b, err := m.GetBool(tag)
	if err != nil {
		return def
	}
	return b
}

func (m *FieldMap) clone() FieldMap {
	return FieldMap{fields: m.Fields()}
}

func (m *FieldMap) reset() {
	m.fields = m.fields[:0]
}
