package ksk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kskmon/kskmon/internal/metrics"
)

// Endpoint paths as observed in the deployed API. These are upstream-owned
// and have changed before; the gateway's job is tolerance, not a fixed
// contract.
const (
	signInPath              = "/auth/sign-in"
	userInfoPath            = "/api/profile/user-info"
	accountsPath            = "/api/profile/accounts/"
	accountDetailsPath      = "/api/profile/account/%s"
	transmissionDetailsPath = "/api/profile/transmission-details/%s"
	meterHistoryPath        = "/history/meters/%s"
	paymentDetailsPath      = "/api/pay/paymentDetails/%s"
	paymentHistoryPath      = "/history/payments/%s"
	sendMeterPath           = "/api/profile/send-meter-lk"
	paymentLinkPath         = "/api/pay/make-paymnet" // the typo is upstream's
	serverTimePath          = "/api/service/time"
)

// GatewayConfig tunes the retry policy and the optional-endpoint cache.
type GatewayConfig struct {
	Retry            RetryPolicy
	HistoryCacheSize int
	HistoryCacheTTL  time.Duration
}

// Gateway exposes one method per upstream resource and normalizes the
// response envelopes. Required resources (user info, accounts) surface
// their errors; history and details endpoints are optional enrichments
// and degrade to empty values, except for auth failures which always
// propagate.
type Gateway struct {
	client  *Client
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	retry   RetryPolicy
	history *responseCache
}

func NewGateway(client *Client, cfg GatewayConfig, logger logrus.FieldLogger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		client:  client,
		logger:  logger,
		metrics: m,
		retry:   cfg.Retry,
		history: newResponseCache(cfg.HistoryCacheSize, cfg.HistoryCacheTTL),
	}
}

func (g *Gateway) get(ctx context.Context, op, path string) (json.RawMessage, error) {
	return doWithRetry(ctx, g.logger, g.metrics, g.retry, op, func(ctx context.Context) (json.RawMessage, error) {
		return g.client.Request(ctx, op, http.MethodGet, path, nil)
	})
}

// optionalGet fetches an optional endpoint. The returned error is non-nil
// only for auth failures; anything else is logged and reported as an
// empty body.
func (g *Gateway) optionalGet(ctx context.Context, op, path string) (json.RawMessage, error) {
	raw, err := g.get(ctx, op, path)
	if err != nil {
		if IsAuthError(err) {
			return nil, err
		}
		g.logger.WithError(err).WithField("operation", op).Warn("Optional KSK endpoint unavailable")
		return nil, nil
	}
	return raw, nil
}

// cachedGet is optionalGet with the history cache in front.
func (g *Gateway) cachedGet(ctx context.Context, op, path string) (json.RawMessage, error) {
	if body, ok := g.history.get(path); ok {
		return body, nil
	}
	raw, err := g.optionalGet(ctx, op, path)
	if err != nil || raw == nil {
		return raw, err
	}
	g.history.put(path, raw)
	return raw, nil
}

// UserInfo fetches the profile behind the configured login.
func (g *Gateway) UserInfo(ctx context.Context) (UserInfo, error) {
	raw, err := g.get(ctx, "user-info", userInfoPath)
	if err != nil {
		return UserInfo{}, err
	}
	var info UserInfo
	if err := json.Unmarshal(unwrapData(raw), &info); err != nil {
		return UserInfo{}, &TransportError{Endpoint: userInfoPath, Err: fmt.Errorf("malformed user info: %w", err)}
	}
	return info, nil
}

// Accounts fetches the personal accounts list. An empty result is
// returned as-is; treating that as a hard failure is the coordinator's
// call, never silently merged with an error here.
func (g *Gateway) Accounts(ctx context.Context) ([]Account, error) {
	raw, err := g.get(ctx, "accounts", accountsPath)
	if err != nil {
		return nil, err
	}
	var accounts []Account
	if err := json.Unmarshal(asArray(unwrapData(raw)), &accounts); err != nil {
		return nil, &TransportError{Endpoint: accountsPath, Err: fmt.Errorf("malformed accounts list: %w", err)}
	}
	return accounts, nil
}

// AccountDetails fetches the fresher per-account record. Returns nil when
// the endpoint is unavailable.
func (g *Gateway) AccountDetails(ctx context.Context, accountID string) (*Account, error) {
	raw, err := g.optionalGet(ctx, "account-details", fmt.Sprintf(accountDetailsPath, accountID))
	if err != nil || raw == nil {
		return nil, err
	}
	var account Account
	if err := json.Unmarshal(unwrapData(raw), &account); err != nil {
		g.logger.WithError(err).Warn("Malformed account details")
		return nil, nil
	}
	return &account, nil
}

// TransmissionDetails fetches the current billing period's submission
// state. Returns nil when the endpoint is unavailable.
func (g *Gateway) TransmissionDetails(ctx context.Context, accountID string) (*TransmissionDetails, error) {
	raw, err := g.optionalGet(ctx, "transmission-details", fmt.Sprintf(transmissionDetailsPath, accountID))
	if err != nil || raw == nil {
		return nil, err
	}
	var details TransmissionDetails
	if err := json.Unmarshal(unwrapData(raw), &details); err != nil {
		g.logger.WithError(err).Warn("Malformed transmission details")
		return nil, nil
	}
	return &details, nil
}

// MeterHistory fetches submitted-readings history, empty when unavailable.
func (g *Gateway) MeterHistory(ctx context.Context, accountID string) ([]MeterHistoryEntry, error) {
	raw, err := g.cachedGet(ctx, "meter-history", fmt.Sprintf(meterHistoryPath, accountID))
	if err != nil || raw == nil {
		return nil, err
	}
	var history []MeterHistoryEntry
	if err := json.Unmarshal(asArray(unwrapData(raw)), &history); err != nil {
		g.logger.WithError(err).Warn("Malformed meter history")
		return nil, nil
	}
	return history, nil
}

// PaymentDetails fetches the payment form parameters, nil when
// unavailable.
func (g *Gateway) PaymentDetails(ctx context.Context, accountID string) (*PaymentDetails, error) {
	raw, err := g.optionalGet(ctx, "payment-details", fmt.Sprintf(paymentDetailsPath, accountID))
	if err != nil || raw == nil {
		return nil, err
	}
	var details PaymentDetails
	if err := json.Unmarshal(unwrapData(raw), &details); err != nil {
		g.logger.WithError(err).Warn("Malformed payment details")
		return nil, nil
	}
	return &details, nil
}

// PaymentHistory fetches past payments, empty when unavailable.
func (g *Gateway) PaymentHistory(ctx context.Context, accountID string) ([]Payment, error) {
	raw, err := g.cachedGet(ctx, "payment-history", fmt.Sprintf(paymentHistoryPath, accountID))
	if err != nil || raw == nil {
		return nil, err
	}
	var payments []Payment
	if err := json.Unmarshal(asArray(unwrapData(raw)), &payments); err != nil {
		g.logger.WithError(err).Warn("Malformed payment history")
		return nil, nil
	}
	return payments, nil
}

// SubmitMeterReadings sends meter readings for an account and period.
// Period defaults to the current month when empty. This is a direct call,
// not part of the refresh cycle.
func (g *Gateway) SubmitMeterReadings(ctx context.Context, accountID string, readings map[string]float64, period string) error {
	if period == "" {
		period = time.Now().Format("2006-01")
	}
	body := map[string]any{
		"account":  accountID,
		"readings": readings,
		"period":   period,
	}
	raw, err := doWithRetry(ctx, g.logger, g.metrics, g.retry, "send-meter", func(ctx context.Context) (json.RawMessage, error) {
		return g.client.Request(ctx, "send-meter", http.MethodPost, sendMeterPath, body)
	})
	if err != nil {
		return err
	}
	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(unwrapData(raw), &result); err != nil {
		return &TransportError{Endpoint: sendMeterPath, Err: fmt.Errorf("malformed send-meter response: %w", err)}
	}
	if !result.Success {
		return fmt.Errorf("readings for account %s were not accepted: %s", accountID, result.Message)
	}
	return nil
}

// PaymentLink requests a payment form URL for the given amount in RUB.
func (g *Gateway) PaymentLink(ctx context.Context, accountID string, amount float64) (string, error) {
	body := map[string]any{
		"accountNumber": accountID,
		"amount":        strconv.FormatFloat(amount, 'f', 2, 64),
		"deepLink":      g.client.siteURL + "/" + accountID,
		"osType":        "",
	}
	raw, err := doWithRetry(ctx, g.logger, g.metrics, g.retry, "payment-link", func(ctx context.Context) (json.RawMessage, error) {
		return g.client.Request(ctx, "payment-link", http.MethodPost, paymentLinkPath, body)
	})
	if err != nil {
		return "", err
	}
	var result struct {
		FormURL string `json:"formUrl"`
	}
	if err := json.Unmarshal(unwrapData(raw), &result); err != nil {
		return "", &TransportError{Endpoint: paymentLinkPath, Err: fmt.Errorf("malformed payment link response: %w", err)}
	}
	if result.FormURL == "" {
		return "", fmt.Errorf("no payment form url for account %s", accountID)
	}
	return result.FormURL, nil
}

// ServerTime fetches the provider's clock. The timestamp comes with
// milliseconds that the parser does not want.
func (g *Gateway) ServerTime(ctx context.Context) (time.Time, error) {
	raw, err := g.get(ctx, "server-time", serverTimePath)
	if err != nil {
		return time.Time{}, err
	}
	var result struct {
		CurrentTime string `json:"currentTime"`
	}
	if err := json.Unmarshal(unwrapData(raw), &result); err != nil || result.CurrentTime == "" {
		return time.Time{}, &TransportError{Endpoint: serverTimePath, Err: fmt.Errorf("malformed server time response")}
	}
	stamp, _, _ := strings.Cut(result.CurrentTime, ".")
	parsed, err := time.Parse("2006-01-02T15:04:05", stamp)
	if err != nil {
		return time.Time{}, &TransportError{Endpoint: serverTimePath, Err: err}
	}
	return parsed, nil
}

// unwrapData strips the {"data": ...} envelope some API versions wrap
// around responses.
func unwrapData(raw json.RawMessage) json.RawMessage {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if trimmed := bytes.TrimSpace(envelope.Data); len(trimmed) > 0 && string(trimmed) != "null" {
			return envelope.Data
		}
	}
	return raw
}

// asArray wraps a bare object into a one-element array; some API versions
// return a single object where a sequence is expected.
func asArray(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return json.RawMessage("[]")
	}
	if trimmed[0] == '[' {
		return trimmed
	}
	wrapped := make([]byte, 0, len(trimmed)+2)
	wrapped = append(wrapped, '[')
	wrapped = append(wrapped, trimmed...)
	wrapped = append(wrapped, ']')
	return wrapped
}
