package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
whatsapp:
  token: "tok"
  phone_number_id: "12345"
  verify_token: "vt"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WhatsApp.APIVersion != "v18.0" {
		t.Errorf("api version default = %q", cfg.WhatsApp.APIVersion)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("http port default = %d", cfg.HTTP.Port)
	}
	if cfg.Limits.CallbacksPerDay != 2 {
		t.Errorf("callbacks default = %d", cfg.Limits.CallbacksPerDay)
	}
	if cfg.Sender.Workers != 4 {
		t.Errorf("sender workers default = %d", cfg.Sender.Workers)
	}
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "missing token", cfg: Config{WhatsApp: WhatsAppConfig{PhoneNumberID: "1", VerifyToken: "v"}}},
		{name: "missing phone id", cfg: Config{WhatsApp: WhatsAppConfig{Token: "t", VerifyToken: "v"}}},
		{name: "missing verify token", cfg: Config{WhatsApp: WhatsAppConfig{Token: "t", PhoneNumberID: "1"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			if err := Normalize(&cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNormalizeTrimsBaseURL(t *testing.T) {
	cfg := Config{WhatsApp: WhatsAppConfig{
		Token:         "t",
		PhoneNumberID: "1",
		VerifyToken:   "v",
		APIBaseURL:    "http://localhost:9000/",
	}}
	if err := Normalize(&cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.WhatsApp.APIBaseURL != "http://localhost:9000" {
		t.Errorf("base url = %q", cfg.WhatsApp.APIBaseURL)
	}
}
