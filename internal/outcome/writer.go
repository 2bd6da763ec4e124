package outcome

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Writer appends outcomes as JSON lines.
type Writer struct {
	logger *zap.Logger
	file   *os.File
}

// Open creates the parent directory if needed and opens path for appending.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("outcome log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open outcome log: %w", err)
	}

	w := NewWriter(f)
	w.file = f
	return w, nil
}

// NewWriter writes outcomes to ws. Each outcome is a single Write call.
func NewWriter(ws zapcore.WriteSyncer) *Writer {
	encoderCfg := zapcore.EncoderConfig{
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(ws),
		zapcore.InfoLevel,
	)

	return &Writer{logger: zap.New(core)}
}

func (w *Writer) Write(o Outcome) {
	fields := []zap.Field{
		zap.Time("ts", o.Time),
		zap.String("request_id", o.RequestID),
		zap.String("method", o.Method),
		zap.String("path", o.Path),
		zap.String("pool", o.Pool),
		zap.String("release", o.Release),
		zap.Int("status", o.Status),
		zap.String("class", string(o.Class)),
		zap.Ints("upstream_status", o.UpstreamStatus),
		zap.Int("attempts", o.Attempts),
		zap.Float64("latency_ms", o.LatencyMS),
	}

	w.logger.Info("", fields...)
}

func (w *Writer) Close() error {
	_ = w.logger.Sync()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
