package utils

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
)

type JSONBufferPool struct {
	pool sync.Pool
}

func (p *JSONBufferPool) Get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *JSONBufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 16*1024 {
		p.pool.Put(buf)
	}
}

var jsonPool = &JSONBufferPool{}

func MarshalToBuffer(data interface{}, buf *bytes.Buffer) error {
	buf.Reset()
	encoder := sonic.ConfigDefault.NewEncoder(buf)
	return encoder.Encode(data)
}

func Marshal(data interface{}) ([]byte, error) {
	buf := jsonPool.Get()
	defer jsonPool.Put(buf)

	if err := MarshalToBuffer(data, buf); err != nil {
		return nil, err
	}

	encoded := bytes.TrimRight(buf.Bytes(), "\n")
	result := make([]byte, len(encoded))
	copy(result, encoded)
	return result, nil
}

// MarshalCanonical encodes with sorted map keys so equal documents produce equal bytes.
func MarshalCanonical(data interface{}) ([]byte, error) {
	return sonic.ConfigStd.Marshal(data)
}

func MarshalIndent(data interface{}) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(data, "", "  ")
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// Normalize round-trips a value through JSON so that it only contains
// map[string]interface{}, []interface{}, float64, string, bool and nil.
func Normalize(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	data, err := sonic.ConfigStd.Marshal(value)
	if err != nil {
		return nil, err
	}

	var out interface{}
	if err := sonic.ConfigStd.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// Decode converts a generic value into T through JSON.
func Decode[T any](value interface{}, target *T) error {
	if typed, ok := value.(T); ok {
		*target = typed
		return nil
	}

	data, err := sonic.ConfigStd.Marshal(value)
	if err != nil {
		return err
	}

	return sonic.ConfigStd.Unmarshal(data, target)
}

func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return err
	}

	return sonic.ConfigDefault.Unmarshal(configBytes, target)
}
