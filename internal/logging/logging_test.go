package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "info", Output: &buf}, "worker-1")

	logger.Info().Str("job_id", "job-1").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["worker_id"] != "worker-1" {
		t.Errorf("worker_id = %v, want worker-1", line["worker_id"])
	}
	if line["job_id"] != "job-1" {
		t.Errorf("job_id = %v, want job-1", line["job_id"])
	}
}

func TestNewLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Output: &buf}, "")

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn line should be written")
	}
}

func TestNewBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "loud", Output: &buf}, "")

	logger.Debug().Msg("debug")
	logger.Info().Msg("info")

	if strings.Contains(buf.String(), `"debug"`) && strings.Contains(buf.String(), `"message":"debug"`) {
		t.Error("debug should be filtered at the fallback info level")
	}
	if !strings.Contains(buf.String(), `"message":"info"`) {
		t.Error("info should be written")
	}
}

func TestLogf(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "debug", Output: &buf}, "")

	Logf(logger, "warning", "job %s slow", "j1")
	Logf(logger, "success", "job %s done", "j2")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "job j1 slow") {
		t.Errorf("warning line missing: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) || !strings.Contains(out, "job j2 done") {
		t.Errorf("success line should log at info: %s", out)
	}
}
