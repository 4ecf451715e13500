package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLogLevel = "info"

// LoggerOptions describes the process a logger belongs to.
type LoggerOptions struct {
	Service     string
	Environment string

	// Level overrides LOG_LEVEL when set.
	Level string

	// Console switches to human-readable output; LOG_FORMAT=console does the same.
	Console bool
}

// NewLogger builds the process logger. Output is JSON with upper-case severities unless console
// output is requested. Every entry carries the service and environment.
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	rawLevel := opts.Level
	if rawLevel == "" {
		rawLevel = os.Getenv("LOG_LEVEL")
	}
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(rawLevel)))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	console := opts.Console || strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console")

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.MessageKey = "message"
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.LevelKey = "severity"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoding := "json"
	if console {
		encoding = "console"
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	fields := map[string]any{}
	if opts.Service != "" {
		fields["service"] = opts.Service
	}
	if opts.Environment != "" {
		fields["environment"] = opts.Environment
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
		InitialFields:     fields,
	}
	return cfg.Build()
}

// PrintfAdapter lets printf-style consumers such as the idempotency middleware log through zap.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Printf logs at warn level; the middleware only reports store trouble through it.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Warnf(format, args...)
}
