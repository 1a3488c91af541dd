package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Canonical field keys for the identifiers that flow through the system.
// Every component logs ids under these names so that lines from the facade,
// the dispatcher, the plugin host and a worker agent join on the same keys.
const (
	KeyWorkerID = "workerId"
	KeyJobID    = "jobId"
	KeyTaskID   = "taskId"
	KeyPluginID = "pluginId"
)

// Logger is the logging interface shared by every component. Fields are
// alternating key/value pairs, sugared-zap style.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

type Config struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	AddCaller bool   `mapstructure:"add_caller"`
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

func New(cfg Config) Logger {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level = parsed
	}

	encCfg := zap.NewProductionEncoderConfig()
	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stdout)
	if cfg.Output != "" && cfg.Output != "stdout" {
		if f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			sink = zapcore.Lock(f)
		}
	}

	var opts []zap.Option
	if cfg.AddCaller {
		// Skip the wrapper frame so call sites, not this file, are reported.
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	core := zapcore.NewCore(encoder, sink, level)
	return &zapLogger{logger: zap.New(core, opts...).Sugar()}
}

// NewDefault returns a JSON stdout logger at info level.
func NewDefault() Logger {
	return New(Config{Level: "info", Format: "json", Output: "stdout", AddCaller: true})
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() Logger {
	return &zapLogger{logger: zap.NewNop().Sugar()}
}

// WithWorker scopes a logger to one worker.
func WithWorker(log Logger, workerID string) Logger {
	return log.With(KeyWorkerID, workerID)
}

// WithJob scopes a logger to one job.
func WithJob(log Logger, jobID string) Logger {
	return log.With(KeyJobID, jobID)
}

// WithTask scopes a logger to one task within its job.
func WithTask(log Logger, jobID, taskID string) Logger {
	return log.With(KeyJobID, jobID, KeyTaskID, taskID)
}

// WithPlugin scopes a logger to one plugin instance.
func WithPlugin(log Logger, pluginID string) Logger {
	return log.With(KeyPluginID, pluginID)
}

func (l *zapLogger) Debug(msg string, fields ...interface{}) { l.logger.Debugw(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...interface{})  { l.logger.Infow(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...interface{})  { l.logger.Warnw(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...interface{}) { l.logger.Errorw(msg, fields...) }

func (l *zapLogger) Fatal(msg string, fields ...interface{}) {
	l.logger.Fatalw(msg, fields...)
	os.Exit(1)
}

func (l *zapLogger) With(fields ...interface{}) Logger {
	return &zapLogger{logger: l.logger.With(fields...)}
}
