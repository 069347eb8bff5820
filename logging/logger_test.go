package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component")
	if logger == nil {
		t.Fatal("Expected logger to be created")
	}

	if logger.Data["component"] != "test-component" {
		t.Errorf("Expected component to be 'test-component', got %v", logger.Data["component"])
	}

	// Same component gets the same entry back
	again := NewLogger("test-component")
	if again != logger {
		t.Error("Expected logger to be cached per component")
	}
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer

	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&TextFormatter{Config: FormatConfig{}})

	entry := logger.WithField("component", "hub")
	entry.Info("Subscribed to channel")

	output := buf.String()

	if !strings.Contains(output, "[INFO]") {
		t.Errorf("Expected output to contain [INFO], got: %s", output)
	}
	if !strings.Contains(output, "[hub]") {
		t.Errorf("Expected output to contain [hub], got: %s", output)
	}
	if !strings.Contains(output, "Subscribed to channel") {
		t.Errorf("Expected output to contain message, got: %s", output)
	}
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name    string
		config  FormatConfig
		entry   *logrus.Entry
		want    []string
		notWant []string
	}{
		{
			name:   "default format",
			config: FormatConfig{},
			entry: &logrus.Entry{
				Level:   logrus.InfoLevel,
				Message: "delta applied",
				Data: logrus.Fields{
					"component": "reconciler",
					"version":   7,
				},
			},
			want: []string{"[INFO]", "[reconciler]", "delta applied", "version=7"},
		},
		{
			name: "simple format",
			config: FormatConfig{
				DisableTimestamp: true,
				DisableComponent: true,
			},
			entry: &logrus.Entry{
				Level:   logrus.InfoLevel,
				Message: "delta applied",
				Data: logrus.Fields{
					"component": "reconciler",
				},
			},
			want:    []string{"[INFO]", "delta applied"},
			notWant: []string{"[reconciler]"},
		},
		{
			name:   "warning level is shortened",
			config: FormatConfig{DisableTimestamp: true},
			entry: &logrus.Entry{
				Level:   logrus.WarnLevel,
				Message: "version gap",
				Data:    logrus.Fields{},
			},
			want:    []string{"[WARN]", "version gap"},
			notWant: []string{"[WARNING]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &TextFormatter{Config: tt.config}
			out, err := f.Format(tt.entry)
			if err != nil {
				t.Fatalf("Format returned error: %v", err)
			}
			s := string(out)
			for _, w := range tt.want {
				if !strings.Contains(s, w) {
					t.Errorf("Expected output to contain %q, got: %s", w, s)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(s, nw) {
					t.Errorf("Expected output to not contain %q, got: %s", nw, s)
				}
			}
		})
	}
}
