package postgres

import "testing"

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigValidateRejectsEmptyURL(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	cfg.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for empty URL")
	}
}

func TestConfigValidateRejectsIdleAboveOpen(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	cfg.MaxOpenConns = 2
	cfg.MaxIdleConns = 5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for idle > open")
	}
}
