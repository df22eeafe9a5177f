package ring

import (
	"go.uber.org/zap/zapcore"
)

// core is a zapcore.Core that writes every entry into a Buffer instead of
// an io.Writer. It is teed alongside the normal encoder core via
// zapcore.NewTee so production log shipping is unaffected.
type core struct {
	zapcore.LevelEnabler
	buf    *Buffer
	fields []zapcore.Field
}

// NewCore builds a zapcore.Core that mirrors records into buf.
func NewCore(buf *Buffer, enab zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: enab, buf: buf}
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &core{LevelEnabler: c.LevelEnabler, buf: c.buf, fields: merged}
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	traceID, _ := enc.Fields["trace_id"].(string)
	delete(enc.Fields, "trace_id")

	c.buf.Add(Record{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		Logger:  ent.LoggerName,
		Message: ent.Message,
		TraceID: traceID,
		Fields:  enc.Fields,
	})
	return nil
}

func (c *core) Sync() error {
	return nil
}
