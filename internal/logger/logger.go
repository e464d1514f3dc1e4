package logger

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// rotating is the open log file, if any, closed by Sync.
var (
	rotating   io.Closer
	rotatingMu sync.Mutex
)

// Logger is a logrus entry carrying the service name and any bound fields.
type Logger struct {
	*logrus.Entry
}

// New builds a Logger from cfg. A nil cfg means JSON at info level on stdout.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{Level: "info", Format: "json", ServiceName: "enrollflow", Environment: "local"}
	}

	base := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	base.SetReportCaller(true)
	base.SetFormatter(formatter(cfg.Format))
	base.SetOutput(destination(cfg))

	return &Logger{Entry: base.WithField("service", cfg.ServiceName)}
}

// NewDefault builds the process logger from the environment. Call Sync
// before exit so a rotated file is flushed.
func NewDefault() *Logger {
	return New(ConfigFromEnv())
}

// Sync closes the log file opened by New, if there is one.
func Sync() error {
	rotatingMu.Lock()
	defer rotatingMu.Unlock()
	if rotating == nil {
		return nil
	}
	err := rotating.Close()
	rotating = nil
	return err
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  timestampFormat,
			CallerPrettyfier: shortCaller,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: shortCaller,
	}
}

func destination(cfg *Config) io.Writer {
	if cfg.Output != nil {
		return cfg.Output
	}
	if !cfg.writesFile() {
		return os.Stdout
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.Rotation.MaxSizeMB,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAgeDays,
		Compress:   cfg.Rotation.Compress,
	}
	rotatingMu.Lock()
	rotating = file
	rotatingMu.Unlock()

	if cfg.FileOnly {
		return file
	}
	return io.MultiWriter(os.Stdout, file)
}

// shortCaller reports "pkg.Func" and "file.go:line" instead of full paths.
func shortCaller(frame *runtime.Frame) (string, string) {
	fn := frame.Function
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	return fn, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

// WithFields returns a Logger with fields bound.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a Logger with one field bound.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a Logger with err bound under "error".
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// Info, Warn, Error and Fatal log through the default logger. Code that has
// a context should use the Ctx variants so request fields are kept.

func Info(format string, args ...interface{})  { defaultLog().Infof(format, args...) }
func Warn(format string, args ...interface{})  { defaultLog().Warnf(format, args...) }
func Error(format string, args ...interface{}) { defaultLog().Errorf(format, args...) }
func Fatal(format string, args ...interface{}) { defaultLog().Fatalf(format, args...) }
