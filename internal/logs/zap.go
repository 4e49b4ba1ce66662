package logs

import "go.uber.org/zap"

// ZapSink forwards entries to a zap logger.
type ZapSink struct {
	z *zap.Logger
}

// NewZapSink wraps z. A nil logger is replaced with zap.NewNop.
func NewZapSink(z *zap.Logger) *ZapSink {
	if z == nil {
		z = zap.NewNop()
	}
	return &ZapSink{z: z}
}

func (s *ZapSink) Write(e Entry) {
	fields := []zap.Field{zap.Time("ts", e.TimeStamp)}
	if e.Component != "" {
		fields = append(fields, zap.String("component", e.Component))
	}

	switch e.Level {
	case DEBUG:
		s.z.Debug(e.Message, fields...)
	case WARN:
		s.z.Warn(e.Message, fields...)
	case ERROR:
		s.z.Error(e.Message, fields...)
	default:
		s.z.Info(e.Message, fields...)
	}
}

// Sync flushes the underlying zap logger.
func (s *ZapSink) Sync() error {
	return s.z.Sync()
}
