package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/fixgarden-go/pkg/util/viper"
)

const (
	keyDefault  = "default"
	keySessions = "sessions"
)

// Settings 为引擎配置：一组默认配置项以及按声明顺序排列的会话配置。
//
// 文件格式（YAML/JSON）：
//
//	default:
//	  ConnectionType: acceptor
//	  HeartBtInt: 30
//	sessions:
//	  - BeginString: FIX.4.2
//	    SenderCompID: EXEC
//	    TargetCompID: BANZAI
//	    SocketAcceptPort: 9880
type Settings struct {
	defaults *Dictionary
	sessions []*Dictionary
}

// NewSettings 创建空配置。
func NewSettings() *Settings {
	return &Settings{
		defaults: NewDictionary(keyDefault),
	}
}

// Defaults 返回默认配置字典，可直接修改。
func (s *Settings) Defaults() *Dictionary {
	return s.defaults
}

// AddSession 追加一个会话配置，返回追加的字典。
func (s *Settings) AddSession(d *Dictionary) *Dictionary {
	if d.name == "" {
		d.name = fmt.Sprintf("session %d", len(s.sessions)+1)
	}
	s.sessions = append(s.sessions, d)
	return d
}

// Sessions 返回已合并默认值的会话配置副本，顺序与声明顺序一致。
func (s *Settings) Sessions() []*Dictionary {
	out := make([]*Dictionary, 0, len(s.sessions))
	for _, d := range s.sessions {
		out = append(out, d.Clone().Merge(s.defaults))
	}
	return out
}

// Len 返回会话配置数量。
func (s *Settings) Len() int {
	return len(s.sessions)
}

// Load 从 YAML 或 JSON 文件加载配置。
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read settings %s", path)
	}
	typ := strings.TrimPrefix(filepath.Ext(path), ".")
	if typ == "yml" {
		typ = "yaml"
	}
	return Parse(bytes.NewReader(data), typ)
}

// Parse 从 r 解析配置，configType 为 yaml 或 json。
func Parse(r io.Reader, configType string) (*Settings, error) {
	v := viper.New()
	if err := v.LoadReader(r, configType); err != nil {
		return nil, errors.Wrap(err, "parse settings")
	}

	settings := NewSettings()
	var defaults map[string]any
	if err := v.UnmarshalKey(keyDefault, &defaults); err != nil {
		return nil, errors.Wrap(err, "parse default section")
	}
	for k, val := range defaults {
		settings.defaults.SetAny(k, val)
	}

	var sessions []map[string]any
	if err := v.UnmarshalKey(keySessions, &sessions); err != nil {
		return nil, errors.Wrap(err, "parse sessions section")
	}
	for i, kv := range sessions {
		d := NewDictionary(fmt.Sprintf("session %d", i+1))
		for k, val := range kv {
			d.SetAny(k, val)
		}
		settings.AddSession(d)
	}
	return settings, nil
}
