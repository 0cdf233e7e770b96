package shared

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Fatal("expected unique ids")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("expected uuid, got %q: %v", a, err)
	}
}

func TestLogger(t *testing.T) {
	t.Run("WithLogger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		child := WithLogger(logger, "playlist", "p-1")
		child.Info("sync started")

		out := buf.String()
		if !strings.Contains(out, "sync started") || !strings.Contains(out, "p-1") {
			t.Errorf("unexpected log output: %q", out)
		}
	})

	t.Run("SetLogLevel", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		SetLogLevel(logger, log.WarnLevel)
		logger.Info("hidden")
		if buf.Len() != 0 {
			t.Errorf("info should be filtered at warn level: %q", buf.String())
		}
	})

	t.Run("RedirectToFile", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		path := filepath.Join(t.TempDir(), "logs", "ytsync.log")

		closer, err := RedirectToFile(logger, path)
		if err != nil {
			t.Fatalf("RedirectToFile failed: %v", err)
		}
		WithLogger(logger, "playlist", "p-1").Info("written")
		if err := closer.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}

		if buf.Len() != 0 {
			t.Errorf("nothing should reach the original writer: %q", buf.String())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), "msg=written") || !strings.Contains(string(data), "playlist=p-1") {
			t.Errorf("unexpected log file contents: %q", data)
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	t.Run("nil map", func(t *testing.T) {
		var m map[string]string
		got, err := MarshalJSON(m)
		if err != nil || got != "{}" {
			t.Errorf("MarshalJSON(nil map) = %q, %v", got, err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		got, err := MarshalJSON(map[string]string{"item-1": "timeout"})
		if err != nil {
			t.Fatalf("MarshalJSON failed: %v", err)
		}

		var back map[string]string
		if err := UnmarshalJSON(got, &back); err != nil {
			t.Fatalf("UnmarshalJSON failed: %v", err)
		}
		if back["item-1"] != "timeout" {
			t.Errorf("unexpected decoded map: %v", back)
		}
	})

	t.Run("empty column", func(t *testing.T) {
		var back map[string]string
		if err := UnmarshalJSON("", &back); err != nil {
			t.Fatalf("UnmarshalJSON failed: %v", err)
		}
		if back == nil || len(back) != 0 {
			t.Errorf("expected empty map, got %v", back)
		}
	})
}
