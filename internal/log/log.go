// Package log is the process-wide named logger used by siteseeing.
//
// It keeps the call surface of a small leveled logger (Init, SetLevel,
// Debugf, Warnf, Resultf, ...) on top of logrus, with an optional rotating
// log file.
package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level = logrus.Level

const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
	FatalLevel = logrus.FatalLevel
)

// FileConfig controls the rotating log file.
type FileConfig struct {
	Dir        string // directory holding the log file
	Name       string // file name, defaults to "<app>.log"
	MaxSize    int    // megabytes before rotation
	MaxBackups int    // rotated files kept
	MaxAge     int    // days rotated files are kept
	Compress   bool   // gzip rotated files
}

// DefaultFileConfig returns the log file defaults.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Dir:        "logs",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

var (
	mu     sync.RWMutex
	base   = newBase()
	entry  = logrus.NewEntry(base)
	app    = "siteseeing"
	closer io.Closer
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// Init names the logger. Every line carries the name in the "app" field.
func Init(name string) {
	mu.Lock()
	defer mu.Unlock()
	app = name
	entry = base.WithField("app", name)
}

// SetLevel sets the minimum level that is written.
func SetLevel(level Level) {
	base.SetLevel(level)
}

// ParseLevel takes a level name such as "debug" or "warn".
func ParseLevel(name string) (Level, error) {
	return logrus.ParseLevel(name)
}

// GetLevel returns the current level.
func GetLevel() Level {
	return base.GetLevel()
}

// SetOutput replaces the console writer. A configured log file keeps
// receiving output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		if f, ok := closer.(io.Writer); ok {
			base.SetOutput(io.MultiWriter(w, f))
			return
		}
	}
	base.SetOutput(w)
}

// EnableFile tees output into a rotating file under cfg.Dir.
func EnableFile(cfg FileConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Dir == "" {
		cfg.Dir = DefaultFileConfig().Dir
	}
	if cfg.Name == "" {
		cfg.Name = app + ".log"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return err
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, cfg.Name),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	if closer != nil {
		_ = closer.Close()
	}
	closer = file
	base.SetOutput(io.MultiWriter(os.Stderr, file))
	return nil
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	base.SetOutput(os.Stderr)
	return err
}

// Logger exposes the named logger for packages that take a logrus.FieldLogger.
func Logger() logrus.FieldLogger {
	return current()
}

func current() *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return entry
}

func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }
func Debugln(args ...interface{})               { current().Debugln(args...) }
func Infof(format string, args ...interface{})  { current().Infof(format, args...) }
func Warn(args ...interface{})                  { current().Warn(args...) }
func Warnf(format string, args ...interface{})  { current().Warnf(format, args...) }
func Error(args ...interface{})                 { current().Error(args...) }
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

// Resultf logs a final outcome line. Results are printed at info level and
// tagged so they can be filtered from progress chatter.
func Resultf(format string, args ...interface{}) {
	current().WithField("result", true).Infof(format, args...)
}
