package logging

import (
	"fmt"
	"sort"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// kvEncoder is a zapcore.Encoder that renders entries as
// "TIMESTAMP LEVEL message key=value key2=value2", with fields sorted by
// key; after the timestamp this is the same shape go-ublk's
// stdlib-backed formatArgs produced. zap ships console and JSON
// encoders but neither emits bare key=value pairs, so this one keeps
// call sites and tests reading exactly the way they did before the
// backing implementation switched to zap.
type kvEncoder struct {
	*zapcore.MapObjectEncoder
	cfg zapcore.EncoderConfig
}

func newKVEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &kvEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder(), cfg: cfg}
}

func (e *kvEncoder) Clone() zapcore.Encoder {
	clone := &kvEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder(), cfg: e.cfg}
	for k, v := range e.MapObjectEncoder.Fields {
		clone.MapObjectEncoder.Fields[k] = v
	}
	return clone
}

func (e *kvEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := buffer.NewPool().Get()

	merged := zapcore.NewMapObjectEncoder()
	for k, v := range e.MapObjectEncoder.Fields {
		merged.Fields[k] = v
	}
	for _, f := range fields {
		f.AddTo(merged)
	}

	line.AppendString(ent.Time.Format("2006-01-02T15:04:05.000Z0700"))
	line.AppendString(" ")
	line.AppendString(ent.Level.CapitalString())
	line.AppendString(" ")
	line.AppendString(ent.Message)

	keys := make([]string, 0, len(merged.Fields))
	for k := range merged.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line.AppendString(" ")
		line.AppendString(k)
		line.AppendString("=")
		line.AppendString(fmt.Sprintf("%v", merged.Fields[k]))
	}
	line.AppendString("\n")
	return line, nil
}
