package registry

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/xerrors"
)

// 支持的编码格式
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Codec 实例值的编解码
type Codec interface {
	Name() string
	Marshal(instance *naming.Instance) ([]byte, error)
	Unmarshal(data []byte, instance *naming.Instance) error
}

func newCodec(name string) (Codec, error) {
	switch name {
	case CodecJSON:
		return jsonCodec{}, nil
	case CodecMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, xerrors.Wrapf(ErrUnsupportedCodec, "%q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) Marshal(instance *naming.Instance) ([]byte, error) {
	return json.Marshal(instance)
}

func (jsonCodec) Unmarshal(data []byte, instance *naming.Instance) error {
	return json.Unmarshal(data, instance)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return CodecMsgpack }

func (msgpackCodec) Marshal(instance *naming.Instance) ([]byte, error) {
	return msgpack.Marshal(instance)
}

func (msgpackCodec) Unmarshal(data []byte, instance *naming.Instance) error {
	return msgpack.Unmarshal(data, instance)
}
