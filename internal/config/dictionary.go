package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// Dictionary 为一组大小写不敏感的配置项。
// Dictionary 不是并发安全的，加载完成后应只读使用。
type Dictionary struct {
	name   string
	values map[string]string
	keys   map[string]string // 小写 key -> 原始 key
}

// NewDictionary 创建一个空的配置字典，name 用于错误信息。
func NewDictionary(name string) *Dictionary {
	return &Dictionary{
		name:   name,
		values: make(map[string]string),
		keys:   make(map[string]string),
	}
}

// NewDictionaryFromMap 由 map 构造配置字典。
func NewDictionaryFromMap(name string, kv map[string]string) *Dictionary {
	d := NewDictionary(name)
	for k, v := range kv {
		d.Set(k, v)
	}
	return d
}

// Name 返回字典名称。
func (d *Dictionary) Name() string {
	return d.name
}

// Set 设置配置项，返回自身以便链式调用。
func (d *Dictionary) Set(key, value string) *Dictionary {
	lower := strings.ToLower(key)
	d.values[lower] = value
	if _, ok := d.keys[lower]; !ok {
		d.keys[lower] = key
	}
	return d
}

// SetAny 以 fmt.Sprint 的结果设置配置项，bool 值转换为 Y/N。
func (d *Dictionary) SetAny(key string, value any) *Dictionary {
	switch v := value.(type) {
	case bool:
		return d.Set(key, lo.Ternary(v, "Y", "N"))
	case string:
		return d.Set(key, v)
	default:
		return d.Set(key, fmt.Sprint(v))
	}
}

// Has 判断配置项是否存在。
func (d *Dictionary) Has(key string) bool {
	_, ok := d.values[strings.ToLower(key)]
	return ok
}

// Keys 返回按字母序排列的原始 key。
func (d *Dictionary) Keys() []string {
	keys := lo.Values(d.keys)
	sort.Strings(keys)
	return keys
}

// Map 返回配置项的拷贝，key 为原始大小写。
func (d *Dictionary) Map() map[string]string {
	out := make(map[string]string, len(d.values))
	for lower, v := range d.values {
		out[d.keys[lower]] = v
	}
	return out
}

// Clone 深拷贝字典。
func (d *Dictionary) Clone() *Dictionary {
	c := NewDictionary(d.name)
	for lower, v := range d.values {
		c.values[lower] = v
		c.keys[lower] = d.keys[lower]
	}
	return c
}

// Merge 将 parent 中本字典未设置的配置项合并进来。
func (d *Dictionary) Merge(parent *Dictionary) *Dictionary {
	if parent == nil {
		return d
	}
	for lower, v := range parent.values {
		if _, ok := d.values[lower]; !ok {
			d.values[lower] = v
			d.keys[lower] = parent.keys[lower]
		}
	}
	return d
}

// String 返回字符串配置项，不存在时返回 ErrConfigMissing。
func (d *Dictionary) String(key string) (string, error) {
	v, ok := d.values[strings.ToLower(key)]
	if !ok {
		return "", merr.WrapErrConfigMissing(key, d.name)
	}
	return v, nil
}

// StringOr 返回字符串配置项，不存在或为空时返回 def。
func (d *Dictionary) StringOr(key, def string) string {
	v, err := d.String(key)
	if err != nil || v == "" {
		return def
	}
	return v
}

// Int 返回整型配置项。
func (d *Dictionary) Int(key string) (int, error) {
	v, err := d.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, merr.WrapErrConfigInvalid(key, v, d.name)
	}
	return n, nil
}

// IntOr 返回整型配置项，不存在时返回 def，格式错误时返回错误。
func (d *Dictionary) IntOr(key string, def int) (int, error) {
	if !d.Has(key) {
		return def, nil
	}
	return d.Int(key)
}

// Float 返回浮点配置项。
func (d *Dictionary) Float(key string) (float64, error) {
	v, err := d.String(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, merr.WrapErrConfigInvalid(key, v, d.name)
	}
	return f, nil
}

// FloatOr 返回浮点配置项，不存在时返回 def。
func (d *Dictionary) FloatOr(key string, def float64) (float64, error) {
	if !d.Has(key) {
		return def, nil
	}
	return d.Float(key)
}

// Bool 返回布尔配置项，接受 Y/N 与 true/false。
func (d *Dictionary) Bool(key string) (bool, error) {
	v, err := d.String(key)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "y", "yes", "true", "1":
		return true, nil
	case "n", "no", "false", "0":
		return false, nil
	}
	return false, merr.WrapErrConfigInvalid(key, v, d.name)
}

// BoolOr 返回布尔配置项，不存在时返回 def。
func (d *Dictionary) BoolOr(key string, def bool) (bool, error) {
	if !d.Has(key) {
		return def, nil
	}
	return d.Bool(key)
}

// Seconds 以秒为单位读取时长配置项，允许小数。
func (d *Dictionary) Seconds(key string) (time.Duration, error) {
	f, err := d.Float(key)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, merr.WrapErrConfigInvalid(key, f, d.name)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// SecondsOr 以秒为单位读取时长配置项，不存在时返回 def。
func (d *Dictionary) SecondsOr(key string, def time.Duration) (time.Duration, error) {
	if !d.Has(key) {
		return def, nil
	}
	return d.Seconds(key)
}

// TimeOfDay 解析 HH:MM:SS 格式的配置项，返回距当天零点的时长。
func (d *Dictionary) TimeOfDay(key string) (time.Duration, error) {
	v, err := d.String(key)
	if err != nil {
		return 0, err
	}
	t, err := time.Parse("15:04:05", strings.TrimSpace(v))
	if err != nil {
		return 0, merr.WrapErrConfigInvalid(key, v, d.name)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}
