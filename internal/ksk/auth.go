package ksk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Authenticator turns configured credentials into a Session. Two
// implementations exist: DirectAuthenticator, which posts the
// historically-observed payload variants to the sign-in endpoint, and
// TokenAuthenticator, which wraps a token captured outside the process.
type Authenticator interface {
	Authenticate(ctx context.Context, login, password string) (*Session, error)
}

// districtCodes are the district prefixes the web client has been seen
// encoding into the account number (district*1e8 + account).
var districtCodes = []int64{5, 6, 7, 8}

// DirectAuthenticator signs in by trying every payload shape the upstream
// has accepted at some point. The API changed its expected body between
// deployments without any version header to detect which one is active,
// so the only reliable approach is to walk the list until one works.
type DirectAuthenticator struct {
	client  *Client
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewDirectAuthenticator builds the variant-walking authenticator. Sign-in
// runs outside the retry wrapper, so timeout bounds each variant POST on
// its own.
func NewDirectAuthenticator(client *Client, timeout time.Duration, logger logrus.FieldLogger) *DirectAuthenticator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DirectAuthenticator{client: client, timeout: timeout, logger: logger}
}

// authVariants returns the ordered candidate request bodies.
func authVariants(login, password string) []map[string]any {
	variants := []map[string]any{
		{"login": login, "password": password},
		{"account": login, "password": password},
		{"account": login, "password": password, "district": 5},
		{"account": login, "password": password, "id": 5},
	}

	if number, err := strconv.ParseInt(login, 10, 64); err == nil {
		for _, district := range districtCodes {
			prefixed := strconv.FormatInt(district*100000000+number, 10)
			if district == districtCodes[0] {
				variants = append(variants, map[string]any{
					"account": prefixed, "password": password,
				})
			}
			variants = append(variants, map[string]any{
				"account": prefixed, "password": password, "district": district,
			})
		}
	}

	return variants
}

func (a *DirectAuthenticator) Authenticate(ctx context.Context, login, password string) (*Session, error) {
	variants := authVariants(login, password)
	lastMessage := ""

	for i, body := range variants {
		a.logger.WithFields(logrus.Fields{
			"attempt": i + 1,
			"total":   len(variants),
		}).Debug("Trying sign-in payload variant")

		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		resp, err := a.client.do(attemptCtx, http.MethodPost, signInPath, body)
		cancel()
		if err != nil {
			return nil, &TransportError{Endpoint: signInPath, Err: err}
		}

		switch {
		case resp.Status == http.StatusOK:
			token := extractToken(resp.Body)
			if token == "" {
				continue
			}
			session := &Session{Token: token, Cookies: cookieMap(resp.Cookies)}
			a.logger.WithField("variant", i+1).Info("Sign-in succeeded")
			return session, nil

		case resp.Status == http.StatusBadRequest || resp.Status == http.StatusNotFound:
			// A recognized rejection: the variant reached the API and
			// the API said no. Remember the message and move on.
			lastMessage = rejectionMessage(resp.Body)

		case resp.Status == http.StatusUnauthorized:
			lastMessage = rejectionMessage(resp.Body)

		default:
			a.logger.WithField("status", resp.Status).Warn("Unexpected sign-in response status")
		}
	}

	return nil, &InvalidCredentialsError{Message: lastMessage}
}

// extractToken pulls the bearer token from a sign-in response body. Some
// API versions return it at the top level, others one level down under a
// "data" key.
func extractToken(body []byte) string {
	var envelope struct {
		Token string `json:"token"`
		Data  struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Token != "" {
		return envelope.Token
	}
	return envelope.Data.Token
}

func rejectionMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		return "unknown sign-in error"
	}
	switch {
	case strings.Contains(payload.Message, "not registered"):
		return "account is not registered"
	case strings.Contains(payload.Message, "inconsistent"):
		return "login/password pair rejected"
	}
	return payload.Message
}

func cookieMap(cookies []*http.Cookie) map[string]string {
	if len(cookies) == 0 {
		return nil
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

// TokenAuthenticator adapts an externally-captured token (for deployments
// where sign-in only works through the provider's web frontend) to the
// Authenticator interface.
type TokenAuthenticator struct {
	token string
}

func NewTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{token: token}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, _, _ string) (*Session, error) {
	if a.token == "" {
		return nil, &InvalidCredentialsError{Message: "no captured token configured"}
	}
	return &Session{Token: a.token}, nil
}

// NewAuthenticator selects a strategy by name.
func NewAuthenticator(strategy string, client *Client, token string, timeout time.Duration, logger logrus.FieldLogger) (Authenticator, error) {
	switch strategy {
	case "", "direct":
		return NewDirectAuthenticator(client, timeout, logger), nil
	case "token":
		return NewTokenAuthenticator(token), nil
	default:
		return nil, fmt.Errorf("unknown auth strategy %q", strategy)
	}
}
