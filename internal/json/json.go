// Package json 为基于 bytedance/sonic 的 JSON 编解码，行为与标准库 encoding/json 兼容。
package json

import (
	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Marshal 与 encoding/json.Marshal 相同。
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalIndent 与 encoding/json.MarshalIndent 相同。
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

// Unmarshal 与 encoding/json.Unmarshal 相同。
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}
