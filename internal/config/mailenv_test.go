package config

import (
	"testing"
	"time"
)

// t.Setenv forbids t.Parallel, so these tests run serially.

func clearMailEnv(t *testing.T) {
	t.Helper()
	for _, env := range mailKeys {
		t.Setenv(env, "")
	}
}

func TestLoadMailEnvDefaults(t *testing.T) {
	clearMailEnv(t)

	got, err := LoadMailEnv()
	if err != nil {
		t.Fatalf("LoadMailEnv: %v", err)
	}
	if got.Port != 465 || !got.Secure || got.AppName != "trackerd" || got.Timeout != 15*time.Second {
		t.Fatalf("defaults = %+v", got)
	}
	if got.Configured() {
		t.Fatal("no host or service should mean not configured")
	}
}

func TestLoadMailEnvOverrides(t *testing.T) {
	clearMailEnv(t)
	t.Setenv("MAIL_SERVICE", "gmail")
	t.Setenv("MAIL_PORT", "587")
	t.Setenv("MAIL_SECURE", "false")
	t.Setenv("MAIL_USER", "bot@example.com")
	t.Setenv("MAIL_PASSWORD", "app-password")
	t.Setenv("APP_NAME", "Tracker")
	t.Setenv("MAIL_TIMEOUT", "3s")

	got, err := LoadMailEnv()
	if err != nil {
		t.Fatalf("LoadMailEnv: %v", err)
	}
	want := MailEnv{
		Service:  "gmail",
		Port:     587,
		Secure:   false,
		User:     "bot@example.com",
		Password: "app-password",
		From:     "bot@example.com",
		AppName:  "Tracker",
		Timeout:  3 * time.Second,
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if !got.Configured() {
		t.Fatal("service set should mean configured")
	}
}

func TestLoadMailEnvBadTimeout(t *testing.T) {
	clearMailEnv(t)
	t.Setenv("MAIL_TIMEOUT", "forever")
	if _, err := LoadMailEnv(); err == nil {
		t.Fatal("expected error for bad MAIL_TIMEOUT")
	}
}
