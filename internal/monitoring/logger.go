package monitoring

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.RWMutex
	logger = newLogger("info")
)

func newLogger(level string) *logrus.Logger {
	l := logrus.New()
	if level == "off" || level == "none" {
		l.SetOutput(io.Discard)
	} else {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		l.SetLevel(lvl)
		l.SetOutput(os.Stderr)
	}
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return l
}

// Configure rebuilds the package logger for the given level name. "off" and
// "none" discard all output; unknown names fall back to info.
func Configure(level string) {
	mu.Lock()
	logger = newLogger(level)
	mu.Unlock()
}

// Logger returns the package logger.
func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = newLogger("off")
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logf logs at info level.
func Logf(format string, v ...interface{}) { Logger().Infof(format, v...) }

func Debugf(format string, v ...interface{}) { Logger().Debugf(format, v...) }
func Infof(format string, v ...interface{})  { Logger().Infof(format, v...) }
func Warnf(format string, v ...interface{})  { Logger().Warnf(format, v...) }
func Errorf(format string, v ...interface{}) { Logger().Errorf(format, v...) }
