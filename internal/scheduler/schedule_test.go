package scheduler

import (
	"fmt"
	"testing"
	"time"
)

func TestParseScheduleCron(t *testing.T) {
	s, err := ParseSchedule(`{"kind":"cron","cron_expr":"0 9 * * *"}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if s.Kind != "cron" || s.CronExpr != "0 9 * * *" {
		t.Errorf("unexpected schedule: %+v", s)
	}
}

func TestNextRunCron(t *testing.T) {
	next := NextRun(`{"kind":"cron","cron_expr":"* * * * *"}`)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	if next.Before(time.Now()) {
		t.Error("expected next run in the future")
	}
}

func TestNextRunInterval(t *testing.T) {
	next := NextRun(`{"kind":"interval","interval_ms":60000}`)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	expected := time.Now().Add(60 * time.Second)
	diff := next.Sub(expected)
	if diff > time.Second || diff < -time.Second {
		t.Errorf("expected next run ~60s from now, got diff %v", diff)
	}
}

func TestNextRunOnce(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	if next := NextRun(fmt.Sprintf(`{"kind":"once","at_ms":%d}`, future)); next == nil {
		t.Fatal("expected next run time, got nil")
	}

	past := time.Now().Add(-time.Hour).UnixMilli()
	if next := NextRun(fmt.Sprintf(`{"kind":"once","at_ms":%d}`, past)); next != nil {
		t.Error("expected nil for past once schedule")
	}
}

func TestNextRunInvalid(t *testing.T) {
	if NextRun(`invalid json`) != nil {
		t.Error("expected nil for invalid schedule")
	}
	if NextRun(`{"kind":"unknown"}`) != nil {
		t.Error("expected nil for unknown kind")
	}
}

func TestNormalizePlainCron(t *testing.T) {
	result, err := Normalize("0 9 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := ParseSchedule(result)
	if err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if s.Kind != "cron" || s.CronExpr != "0 9 * * *" {
		t.Errorf("unexpected result: %+v", s)
	}
}

func TestNormalizePassthroughJSON(t *testing.T) {
	input := `{"kind":"interval","interval_ms":300000}`
	result, err := Normalize(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != input {
		t.Errorf("expected passthrough, got '%s'", result)
	}
}

func TestNormalizeInvalid(t *testing.T) {
	if _, err := Normalize("not a cron"); err == nil {
		t.Error("expected error for invalid input")
	}
	if _, err := Normalize(`{"kind":"cron","cron_expr":"bad"}`); err == nil {
		t.Error("expected error for invalid cron in JSON")
	}
	if _, err := Normalize(`{"kind":"interval","interval_ms":0}`); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(`{"kind":"cron","cron_expr":"0 9 * * *"}`); got != "0 9 * * *" {
		t.Errorf("cron describe = %q", got)
	}
	if got := Describe(`{"kind":"interval","interval_ms":60000}`); got != "every 1m0s" {
		t.Errorf("interval describe = %q", got)
	}
}
