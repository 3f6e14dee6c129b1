package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func minimalEnv() map[string]string {
	return map[string]string{
		"API_FIRESTORE_PROJECT_ID": "mekongmart-dev",
		"API_AUTH_TOKEN_SECRET":    "token-secret",
		"API_VNPAY_TMN_CODE":       "MEKONG01",
		"API_VNPAY_HASH_SECRET":    "hash-secret",
		"API_VNPAY_RETURN_URL":     "https://shop.example.com/payment/return",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(minimalEnv()),
	)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Server.Port)
	}
	if cfg.VNPay.BaseURL != "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html" {
		t.Fatalf("expected sandbox base url, got %q", cfg.VNPay.BaseURL)
	}
	if cfg.VNPay.Locale != "vn" {
		t.Fatalf("expected default locale, got %q", cfg.VNPay.Locale)
	}
	if cfg.VNPay.Expiry != 15*time.Minute {
		t.Fatalf("expected 15m payment expiry, got %v", cfg.VNPay.Expiry)
	}
	if cfg.VNPay.ReuseMargin != 60*time.Second {
		t.Fatalf("expected 60s reuse margin, got %v", cfg.VNPay.ReuseMargin)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" {
		t.Fatalf("expected default idempotency header, got %q", cfg.Idempotency.Header)
	}
	if cfg.Events.ProjectID != "mekongmart-dev" {
		t.Fatalf("expected events project to inherit firestore project, got %q", cfg.Events.ProjectID)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := minimalEnv()
	env["API_SERVER_PORT"] = "9090"
	env["API_VNPAY_EXPIRY"] = "20m"
	env["API_VNPAY_REUSE_MARGIN"] = "30s"
	env["API_EVENTS_PROJECT_ID"] = "mekongmart-events"
	env["API_EVENTS_ORDER_TOPIC"] = "order-events"
	env["API_IDEMPOTENCY_CLEANUP_BATCH"] = "50"

	cfg, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(env),
	)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Fatalf("expected overridden port, got %q", cfg.Server.Port)
	}
	if cfg.VNPay.Expiry != 20*time.Minute {
		t.Fatalf("expected 20m expiry, got %v", cfg.VNPay.Expiry)
	}
	if cfg.VNPay.ReuseMargin != 30*time.Second {
		t.Fatalf("expected 30s reuse margin, got %v", cfg.VNPay.ReuseMargin)
	}
	if cfg.Events.ProjectID != "mekongmart-events" || cfg.Events.OrderTopic != "order-events" {
		t.Fatalf("unexpected events config: %#v", cfg.Events)
	}
	if cfg.Idempotency.CleanupBatchSize != 50 {
		t.Fatalf("expected cleanup batch 50, got %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadValidationFailure(t *testing.T) {
	env := minimalEnv()
	delete(env, "API_VNPAY_HASH_SECRET")
	delete(env, "API_AUTH_TOKEN_SECRET")

	_, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(env),
	)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	fields := validation.Fields()
	assertContains := func(want string) {
		t.Helper()
		for _, field := range fields {
			if field == want {
				return
			}
		}
		t.Fatalf("expected %s in missing fields, got %v", want, fields)
	}
	assertContains("VNPay.HashSecret")
	assertContains("Auth.TokenSecret")
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := `# local development
API_FIRESTORE_PROJECT_ID=mekongmart-local
API_AUTH_TOKEN_SECRET="file-secret"
export API_VNPAY_TMN_CODE=MEKONG02
API_VNPAY_HASH_SECRET='file-hash'
API_VNPAY_RETURN_URL=http://localhost:3000/payment/return
`
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(envFile),
		WithoutSystemEnv(),
	)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}

	if cfg.Firestore.ProjectID != "mekongmart-local" {
		t.Fatalf("unexpected project id %q", cfg.Firestore.ProjectID)
	}
	if cfg.Auth.TokenSecret != "file-secret" {
		t.Fatalf("expected quotes to be stripped, got %q", cfg.Auth.TokenSecret)
	}
	if cfg.VNPay.TmnCode != "MEKONG02" {
		t.Fatalf("expected export prefix handling, got %q", cfg.VNPay.TmnCode)
	}
}

func TestLoadEnvMapPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("API_SERVER_PORT=7000\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	env := minimalEnv()
	env["API_SERVER_PORT"] = "8888"

	cfg, err := Load(context.Background(),
		WithEnvFile(envFile),
		WithoutSystemEnv(),
		WithEnvMap(env),
	)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if cfg.Server.Port != "8888" {
		t.Fatalf("expected env map to win over .env file, got %q", cfg.Server.Port)
	}
}
