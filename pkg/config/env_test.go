package config

import (
	"testing"
	"time"
)

func TestGetEnv_Fallback(t *testing.T) {
	t.Setenv("NONEXISTENT_KEY_12345", "")
	if val := GetEnv("NONEXISTENT_KEY_12345", "fallback"); val != "fallback" {
		t.Errorf("expected fallback, got %s", val)
	}
}

func TestGetEnv_Set(t *testing.T) {
	t.Setenv("TEST_KEY_ABC", "value123")
	if val := GetEnv("TEST_KEY_ABC", "fallback"); val != "value123" {
		t.Errorf("expected value123, got %s", val)
	}
}

func TestGetEnvInt_InvalidFallsToDefault(t *testing.T) {
	t.Setenv("BAD_INT", "not-a-number")
	if val := GetEnvInt("BAD_INT", 42); val != 42 {
		t.Errorf("expected default 42 for invalid int, got %d", val)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG_ON", "true")
	if !GetEnvBool("FLAG_ON", false) {
		t.Error("expected true for FLAG_ON=true")
	}

	t.Setenv("FLAG_BAD", "yep")
	if !GetEnvBool("FLAG_BAD", true) {
		t.Error("expected default true for unparsable value")
	}
}

func TestGetEnvDuration_InvalidFallsToDefault(t *testing.T) {
	t.Setenv("BAD_DURATION", "not-a-duration")
	if val := GetEnvDuration("BAD_DURATION", 5*time.Second); val != 5*time.Second {
		t.Errorf("expected default 5s for invalid duration, got %v", val)
	}
}
