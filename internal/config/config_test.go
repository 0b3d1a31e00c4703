package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// setRequiredEnv sets the minimum environment for a valid config.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/receiptless")
	t.Setenv("ADMIN_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("SESSION_SECRET", "test-session-secret")
	t.Setenv("EVIDENCE_BUCKET_NAME", "evidence")
	t.Setenv("EVIDENCE_ACCESS_KEY_ID", "key-id")
	t.Setenv("EVIDENCE_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("EVIDENCE_ENDPOINT", "https://storage.example.com")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, errs := Load("")
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.Env != DefaultEnv {
		t.Errorf("expected env %q, got %q", DefaultEnv, cfg.Env)
	}
	if cfg.AdminUsername != DefaultAdminUsername {
		t.Errorf("expected admin username %q, got %q", DefaultAdminUsername, cfg.AdminUsername)
	}
	if cfg.SessionTTLHours != DefaultSessionTTLHours {
		t.Errorf("expected session ttl %d, got %d", DefaultSessionTTLHours, cfg.SessionTTLHours)
	}
	if cfg.EvidenceMaxSizeMB != DefaultEvidenceMaxSizeMB {
		t.Errorf("expected max size %d, got %d", DefaultEvidenceMaxSizeMB, cfg.EvidenceMaxSizeMB)
	}
	if cfg.PublicIDLength != DefaultPublicIDLength {
		t.Errorf("expected public id length %d, got %d", DefaultPublicIDLength, cfg.PublicIDLength)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	// Only set some of the required values
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ADMIN_PASSWORD_HASH", "")
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("EVIDENCE_BUCKET_NAME", "")
	t.Setenv("EVIDENCE_ACCESS_KEY_ID", "")
	t.Setenv("EVIDENCE_SECRET_ACCESS_KEY", "")
	t.Setenv("EVIDENCE_ENDPOINT", "")

	_, errs := Load("")
	if len(errs) == 0 {
		t.Fatal("expected validation errors for empty config")
	}

	wantErrs := []error{
		ErrMissingDatabaseURL,
		ErrMissingAdminPasswordHash,
		ErrMissingSessionSecret,
		ErrMissingEvidenceBucket,
		ErrMissingEvidenceAccessKey,
		ErrMissingEvidenceSecretKey,
		ErrMissingEvidenceEndpoint,
	}
	for _, want := range wantErrs {
		found := false
		for _, got := range errs {
			if errors.Is(got, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected error %v in %v", want, errs)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("RECEIPTLESS_ENV", "production")
	t.Setenv("SESSION_TTL_HOURS", "2")
	t.Setenv("PUBLIC_ID_LENGTH", "8")

	cfg, errs := Load("")
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Error("expected production mode")
	}
	if cfg.SessionTTLHours != 2 {
		t.Errorf("expected ttl 2, got %d", cfg.SessionTTLHours)
	}
	if cfg.PublicIDLength != 8 {
		t.Errorf("expected public id length 8, got %d", cfg.PublicIDLength)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "not-a-number")

	cfg, errs := Load("")
	if len(errs) == 0 {
		t.Fatal("expected an error for a malformed PORT")
	}
	if cfg.Port != DefaultPort {
		t.Errorf("expected fallback to default port, got %d", cfg.Port)
	}
}

func TestLoad_InvalidPublicIDLength(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PUBLIC_ID_LENGTH", "2")

	_, errs := Load("")
	found := false
	for _, err := range errs {
		if errors.Is(err, ErrInvalidPublicIDLength) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ErrInvalidPublicIDLength, got %v", errs)
	}
}

func TestLoad_FileValues(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "port: 7070\nenv: staging\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, errs := Load(path)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if cfg.Port != 7070 {
		t.Errorf("expected file port 7070, got %d", cfg.Port)
	}
	if cfg.Env != "staging" {
		t.Errorf("expected file env staging, got %q", cfg.Env)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "6060")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 7070\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, errs := Load(path)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if cfg.Port != 6060 {
		t.Errorf("expected env to win with 6060, got %d", cfg.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	setRequiredEnv(t)

	_, errs := Load("/nonexistent/config.yaml")
	if len(errs) == 0 {
		t.Fatal("expected an error for a missing config file")
	}
}
