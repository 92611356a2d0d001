package model

import "encoding/json"

// Setting settings集合中的一条键值记录
type Setting struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// NewSetting 序列化任意值为一条设置记录
func NewSetting(key string, value interface{}) (*Setting, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return &Setting{Key: key, Value: data}, nil
}
