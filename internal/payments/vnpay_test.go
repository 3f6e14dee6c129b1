package payments

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		TmnCode:    "DEMOV210",
		HashSecret: "RAOEXHYVSDDIIENYWSLDIIZTANRUAXNG",
		BaseURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://shop.example.com/payment/return",
		Expiry:     15 * time.Minute,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewGatewayMissingConfiguration(t *testing.T) {
	cfg := testConfig()
	cfg.TmnCode = ""
	cfg.HashSecret = " "

	if _, err := NewGateway(cfg); !errors.Is(err, ErrMissingConfiguration) {
		t.Fatalf("expected ErrMissingConfiguration, got %v", err)
	}
}

func TestBuildRedirectURLParameters(t *testing.T) {
	now := time.Date(2025, time.March, 14, 10, 30, 0, 0, time.UTC)
	gw, err := NewGateway(testConfig(), WithClock(fixedClock(now)), WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	raw, expireAt, err := gw.BuildRedirectURL(PaymentRequest{
		OrderID:  "order-123",
		Amount:   250000,
		ClientIP: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("BuildRedirectURL: %v", err)
	}

	if want := now.Add(15 * time.Minute); !expireAt.Equal(want) {
		t.Fatalf("expireAt = %v, want %v", expireAt, want)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse redirect url: %v", err)
	}
	values := parsed.Query()

	checks := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    "DEMOV210",
		"vnp_CurrCode":   "VND",
		"vnp_Locale":     "vn",
		"vnp_TxnRef":     "order-123",
		"vnp_OrderType":  "other",
		"vnp_Amount":     "25000000",
		"vnp_IpAddr":     "203.0.113.7",
		"vnp_CreateDate": "20250314103000",
		"vnp_ExpireDate": "20250314104500",
	}
	for key, want := range checks {
		if got := values.Get(key); got != want {
			t.Fatalf("%s = %q, want %q", key, got, want)
		}
	}
	if values.Get("vnp_SecureHash") == "" {
		t.Fatal("redirect url missing vnp_SecureHash")
	}
}

func TestVerifyCallbackRoundTrip(t *testing.T) {
	now := time.Date(2025, time.March, 14, 10, 30, 0, 0, time.UTC)
	gw, err := NewGateway(testConfig(), WithClock(fixedClock(now)), WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	raw, _, err := gw.BuildRedirectURL(PaymentRequest{
		OrderID:   "order-456",
		Amount:    1999000,
		OrderInfo: "Thanh toan don hang",
		ClientIP:  "198.51.100.4",
	})
	if err != nil {
		t.Fatalf("BuildRedirectURL: %v", err)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse redirect url: %v", err)
	}

	cb, err := gw.VerifyCallback(parsed.Query())
	if err != nil {
		t.Fatalf("VerifyCallback: %v", err)
	}
	if cb.TxnRef != "order-456" {
		t.Fatalf("TxnRef = %q, want order-456", cb.TxnRef)
	}
	if cb.Amount != 1999000 {
		t.Fatalf("Amount = %d, want 1999000", cb.Amount)
	}
}

func TestVerifyCallbackRejectsTampering(t *testing.T) {
	now := time.Date(2025, time.March, 14, 10, 30, 0, 0, time.UTC)
	gw, err := NewGateway(testConfig(), WithClock(fixedClock(now)), WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	raw, _, err := gw.BuildRedirectURL(PaymentRequest{OrderID: "order-789", Amount: 50000})
	if err != nil {
		t.Fatalf("BuildRedirectURL: %v", err)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse redirect url: %v", err)
	}
	values := parsed.Query()
	values.Set("vnp_Amount", "100")

	if _, err := gw.VerifyCallback(values); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyCallbackMissingHash(t *testing.T) {
	gw, err := NewGateway(testConfig())
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	values := url.Values{}
	values.Set("vnp_TxnRef", "order-1")

	if _, err := gw.VerifyCallback(values); !errors.Is(err, ErrMalformedCallback) {
		t.Fatalf("expected ErrMalformedCallback, got %v", err)
	}
}

func TestEncodeParam(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"Thanh toan don hang", "Thanh+toan+don+hang"},
		{"a=b&c", "a%3Db%26c"},
		{"100%", "100%25"},
		{"keep-safe_.~!*'()", "keep-safe_.~!*'()"},
	}
	for _, tc := range cases {
		if got := encodeParam(tc.in); got != tc.want {
			t.Fatalf("encodeParam(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalQuerySortsByEncodedKey(t *testing.T) {
	query := canonicalQuery(map[string]string{
		"vnp_TxnRef":  "abc",
		"vnp_Amount":  "100",
		"vnp_Command": "pay",
	})
	want := "vnp_Amount=100&vnp_Command=pay&vnp_TxnRef=abc"
	if query != want {
		t.Fatalf("canonicalQuery = %q, want %q", query, want)
	}
	if strings.Contains(query, " ") {
		t.Fatal("canonical query must not contain raw spaces")
	}
}
