package monitoring

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l, &buf
}

func TestSetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	l, buf := captureLogger(logrus.InfoLevel)
	SetLogger(l)
	Logf("hello %d", 42)

	if !strings.Contains(buf.String(), "hello 42") {
		t.Errorf("custom logger not used, got %q", buf.String())
	}

	// nil installs a discarding logger
	SetLogger(nil)
	Logf("dropped")
	Errorf("dropped")
	if strings.Contains(buf.String(), "dropped") {
		t.Error("nil logger should not write to the previous logger")
	}
}

func TestLevels(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	l, buf := captureLogger(logrus.WarnLevel)
	SetLogger(l)

	Debugf("debug line")
	Infof("info line")
	Warnf("warn line")
	Errorf("error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("levels below warn should be filtered, got %q", out)
	}
	if !strings.Contains(out, "warn line") || !strings.Contains(out, "error line") {
		t.Errorf("expected warn and error lines, got %q", out)
	}
}

func TestConfigure(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"bogus", logrus.InfoLevel},
	}
	for _, tt := range tests {
		Configure(tt.level)
		if got := Logger().GetLevel(); got != tt.want {
			t.Errorf("Configure(%q) level = %v, want %v", tt.level, got, tt.want)
		}
	}

	Configure("off")
	// must not panic and must not write anywhere visible
	Logf("silent")
}
