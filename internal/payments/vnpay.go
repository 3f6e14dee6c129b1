package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	versionValue   = "2.1.0"
	commandPay     = "pay"
	currencyVND    = "VND"
	orderTypeOther = "other"
	dateLayout     = "20060102150405"

	// ResponseCodeSuccess is the gateway code for an approved transaction.
	ResponseCodeSuccess = "00"
)

var (
	// ErrMissingConfiguration signals that required gateway credentials are absent.
	ErrMissingConfiguration = errors.New("vnpay: missing configuration")
	// ErrInvalidSignature signals that a callback failed HMAC verification.
	ErrInvalidSignature = errors.New("vnpay: invalid signature")
	// ErrMalformedCallback signals that a callback is missing required parameters.
	ErrMalformedCallback = errors.New("vnpay: malformed callback")
)

// Config carries merchant credentials and URL policy for the VNPay gateway.
type Config struct {
	TmnCode    string
	HashSecret string
	BaseURL    string
	ReturnURL  string
	Locale     string
	Expiry     time.Duration
}

// PaymentRequest describes a redirect URL to be minted for one order.
type PaymentRequest struct {
	OrderID   string
	Amount    int64
	OrderInfo string
	ClientIP  string
}

// Callback carries the verified parameters of a gateway notification or
// buyer return. Amount is converted back to whole currency units.
type Callback struct {
	TxnRef            string
	Amount            int64
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	PayDate           string
	OrderInfo         string
}

// Success reports whether the gateway approved the transaction.
func (c Callback) Success() bool {
	return c.ResponseCode == ResponseCodeSuccess
}

// Gateway signs redirect URLs and verifies callbacks against the merchant secret.
type Gateway struct {
	cfg      Config
	clock    func() time.Time
	location *time.Location
}

// GatewayOption customises Gateway behaviour.
type GatewayOption func(*Gateway)

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithLocation sets the timezone used for gateway timestamps. The gateway
// expects merchant-local time rather than UTC.
func WithLocation(loc *time.Location) GatewayOption {
	return func(g *Gateway) {
		if loc != nil {
			g.location = loc
		}
	}
}

// NewGateway validates credentials and constructs a Gateway.
func NewGateway(cfg Config, opts ...GatewayOption) (*Gateway, error) {
	var missing []string
	if strings.TrimSpace(cfg.TmnCode) == "" {
		missing = append(missing, "TmnCode")
	}
	if strings.TrimSpace(cfg.HashSecret) == "" {
		missing = append(missing, "HashSecret")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		missing = append(missing, "BaseURL")
	}
	if strings.TrimSpace(cfg.ReturnURL) == "" {
		missing = append(missing, "ReturnURL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfiguration, strings.Join(missing, ", "))
	}

	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 15 * time.Minute
	}

	g := &Gateway{
		cfg:      cfg,
		clock:    time.Now,
		location: time.Local,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// BuildRedirectURL mints a signed payment URL for the given request and
// returns it together with its expiry instant.
func (g *Gateway) BuildRedirectURL(req PaymentRequest) (string, time.Time, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return "", time.Time{}, fmt.Errorf("vnpay: order id is required")
	}
	if req.Amount <= 0 {
		return "", time.Time{}, fmt.Errorf("vnpay: amount must be positive")
	}

	now := g.clock().In(g.location)
	expireAt := now.Add(g.cfg.Expiry)

	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Thanh toan cho ma GD: " + req.OrderID
	}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	params := map[string]string{
		"vnp_Version":    versionValue,
		"vnp_Command":    commandPay,
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Locale":     g.cfg.Locale,
		"vnp_CurrCode":   currencyVND,
		"vnp_TxnRef":     req.OrderID,
		"vnp_OrderInfo":  orderInfo,
		"vnp_OrderType":  orderTypeOther,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": now.Format(dateLayout),
		"vnp_ExpireDate": expireAt.Format(dateLayout),
	}

	query := canonicalQuery(params)
	signature := g.sign(query)

	return g.cfg.BaseURL + "?" + query + "&vnp_SecureHash=" + signature, expireAt, nil
}

// VerifyCallback checks the HMAC signature of a gateway callback and, when
// valid, returns the parsed transaction details.
func (g *Gateway) VerifyCallback(values url.Values) (Callback, error) {
	received := values.Get("vnp_SecureHash")
	if received == "" {
		return Callback{}, fmt.Errorf("%w: missing secure hash", ErrMalformedCallback)
	}

	params := make(map[string]string, len(values))
	for key := range values {
		if !strings.HasPrefix(key, "vnp_") {
			continue
		}
		if key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		params[key] = values.Get(key)
	}

	expected := g.sign(canonicalQuery(params))
	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return Callback{}, ErrInvalidSignature
	}

	txnRef := values.Get("vnp_TxnRef")
	if txnRef == "" {
		return Callback{}, fmt.Errorf("%w: missing transaction reference", ErrMalformedCallback)
	}

	rawAmount := values.Get("vnp_Amount")
	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: bad amount %q", ErrMalformedCallback, rawAmount)
	}

	return Callback{
		TxnRef:            txnRef,
		Amount:            amount / 100,
		ResponseCode:      values.Get("vnp_ResponseCode"),
		TransactionStatus: values.Get("vnp_TransactionStatus"),
		TransactionNo:     values.Get("vnp_TransactionNo"),
		BankCode:          values.Get("vnp_BankCode"),
		PayDate:           values.Get("vnp_PayDate"),
		OrderInfo:         values.Get("vnp_OrderInfo"),
	}, nil
}

func (g *Gateway) sign(query string) string {
	mac := hmac.New(sha512.New, []byte(g.cfg.HashSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery encodes every key and value, sorts entries by encoded key,
// and joins them into the string that is both signed and sent. Spaces become
// plus signs to match the gateway's canonical form.
func canonicalQuery(params map[string]string) string {
	type pair struct {
		key   string
		value string
	}

	pairs := make([]pair, 0, len(params))
	for key, value := range params {
		pairs = append(pairs, pair{key: encodeParam(key), value: encodeParam(value)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.key+"="+p.value)
	}
	return strings.Join(parts, "&")
}

// encodeParam mirrors JavaScript encodeURIComponent with "%20" replaced by
// "+", the exact form the gateway canonicalises before hashing.
func encodeParam(value string) string {
	var b strings.Builder
	for _, byteVal := range []byte(value) {
		switch {
		case byteVal >= 'A' && byteVal <= 'Z',
			byteVal >= 'a' && byteVal <= 'z',
			byteVal >= '0' && byteVal <= '9',
			byteVal == '-', byteVal == '_', byteVal == '.', byteVal == '~',
			byteVal == '!', byteVal == '*', byteVal == '\'', byteVal == '(', byteVal == ')':
			b.WriteByte(byteVal)
		case byteVal == ' ':
			b.WriteByte('+')
		default:
			b.WriteString(fmt.Sprintf("%%%02X", byteVal))
		}
	}
	return b.String()
}
