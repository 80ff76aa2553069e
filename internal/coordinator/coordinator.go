package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kskmon/kskmon/internal/ksk"
	"github.com/kskmon/kskmon/internal/metrics"
)

// ErrReauthRequired tells the host framework that the stored credentials
// no longer work and the user must be prompted again. No amount of
// retrying fixes this.
var ErrReauthRequired = errors.New("reauthentication required")

// Config holds the per-configuration coordinator settings.
type Config struct {
	Login    string
	Password string
	// Cooldown is the window within which refresh requests coalesce
	// into the previous cycle's result.
	Cooldown time.Duration
}

// Coordinator runs refresh cycles against the KSK API and caches the
// merged result. It is Idle or Refreshing: triggers arriving while a
// cycle is in flight join that cycle, triggers inside the cooldown window
// reuse its result, so concurrent consumers never cause duplicate
// upstream call sequences.
type Coordinator struct {
	client   *ksk.Client
	gateway  *ksk.Gateway
	auth     ksk.Authenticator
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	login    string
	password string
	cooldown time.Duration

	snapshot atomic.Pointer[Snapshot]

	mu          sync.Mutex
	inflight    chan struct{}
	lastAttempt time.Time
	lastErr     error
}

func New(client *ksk.Client, gateway *ksk.Gateway, auth ksk.Authenticator, cfg Config, logger logrus.FieldLogger, m *metrics.Metrics) *Coordinator {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Coordinator{
		client:   client,
		gateway:  gateway,
		auth:     auth,
		logger:   logger,
		metrics:  m,
		login:    cfg.Login,
		password: cfg.Password,
		cooldown: cooldown,
	}
}

// Snapshot returns the last good snapshot, nil before the first
// successful cycle. The returned value is immutable; it stays readable
// while the next cycle runs and is only ever replaced whole.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// LastError returns the outcome of the most recent cycle.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// RequestRefresh runs one refresh cycle, or joins/coalesces with one that
// already covers this request.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	c.mu.Lock()
	if ch := c.inflight; ch != nil {
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.lastErr
	}
	if !c.lastAttempt.IsZero() && time.Since(c.lastAttempt) < c.cooldown {
		err := c.lastErr
		c.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	c.inflight = ch
	c.mu.Unlock()

	err := c.refresh(ctx)

	c.mu.Lock()
	c.lastErr = err
	c.lastAttempt = time.Now()
	c.inflight = nil
	close(ch)
	c.mu.Unlock()
	return err
}

func (c *Coordinator) refresh(ctx context.Context) error {
	cycle := uuid.NewString()[:8]
	log := c.logger.WithField("cycle", cycle)
	start := time.Now()

	err := c.runCycle(ctx, log)

	var unauthorized *ksk.UnauthorizedError
	if errors.As(err, &unauthorized) {
		// The token went stale mid-cycle. Drop it and run the whole
		// cycle once more with a fresh sign-in.
		log.Info("Bearer token invalidated, re-authenticating")
		c.client.ClearSession()
		err = c.runCycle(ctx, log)
	}

	switch {
	case err == nil:
		c.metrics.RefreshTotal.WithLabelValues("ok").Inc()
		c.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
		c.metrics.LastRefresh.SetToCurrentTime()
		log.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("Refresh cycle finished")
		return nil
	case ksk.IsAuthError(err):
		c.client.ClearSession()
		c.metrics.RefreshTotal.WithLabelValues("reauth").Inc()
		log.WithError(err).Error("Authentication rejected, user action required")
		return fmt.Errorf("%w: %w", ErrReauthRequired, err)
	default:
		c.metrics.RefreshTotal.WithLabelValues("failed").Inc()
		log.WithError(err).Error("Refresh cycle failed, keeping previous snapshot")
		return err
	}
}

func (c *Coordinator) runCycle(ctx context.Context, log logrus.FieldLogger) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	userInfo, err := c.gateway.UserInfo(ctx)
	if err != nil {
		return err
	}

	accounts, err := c.gateway.Accounts(ctx)
	if err != nil {
		return err
	}
	// Records without a number cannot be keyed and would break the
	// one-bundle-per-account invariant.
	valid := accounts[:0]
	for _, account := range accounts {
		if account.Number != "" {
			valid = append(valid, account)
		}
	}
	if len(valid) == 0 {
		return &ksk.DataMissingError{Resource: "accounts"}
	}

	details := make(map[string]AccountBundle, len(valid))
	for _, account := range valid {
		bundle, err := c.fetchBundle(ctx, account.Number)
		if err != nil {
			return err
		}
		details[account.Number] = bundle
	}

	c.snapshot.Store(&Snapshot{
		UserInfo:  userInfo,
		Accounts:  valid,
		Details:   details,
		FetchedAt: time.Now().UTC(),
	})
	log.WithField("accounts", len(valid)).Info("Snapshot published")
	return nil
}

// fetchBundle collects the optional per-account resources. The gateway
// absorbs their failures into empty values, so the only error that can
// come back is an auth failure, which must abort the cycle. Step order
// matters for presentation latency only.
func (c *Coordinator) fetchBundle(ctx context.Context, number string) (AccountBundle, error) {
	bundle := AccountBundle{
		MeterHistory:   []ksk.MeterHistoryEntry{},
		PaymentHistory: []ksk.Payment{},
	}

	var err error
	if bundle.AccountDetails, err = c.gateway.AccountDetails(ctx, number); err != nil {
		return bundle, err
	}
	if bundle.TransmissionDetails, err = c.gateway.TransmissionDetails(ctx, number); err != nil {
		return bundle, err
	}
	if history, err := c.gateway.MeterHistory(ctx, number); err != nil {
		return bundle, err
	} else if history != nil {
		bundle.MeterHistory = history
	}
	if bundle.PaymentDetails, err = c.gateway.PaymentDetails(ctx, number); err != nil {
		return bundle, err
	}
	if payments, err := c.gateway.PaymentHistory(ctx, number); err != nil {
		return bundle, err
	} else if payments != nil {
		bundle.PaymentHistory = payments
	}

	return bundle, nil
}

func (c *Coordinator) ensureSession(ctx context.Context) error {
	if c.client.Session() != nil {
		return nil
	}
	session, err := c.auth.Authenticate(ctx, c.login, c.password)
	if err != nil {
		return err
	}
	c.client.SetSession(session)
	return nil
}

// SubmitMeterReadings sends readings for an account outside the refresh
// cycle. A stale token gets one re-authentication before giving up.
func (c *Coordinator) SubmitMeterReadings(ctx context.Context, account string, readings map[string]float64, period string) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	err := c.gateway.SubmitMeterReadings(ctx, account, readings, period)
	var unauthorized *ksk.UnauthorizedError
	if errors.As(err, &unauthorized) {
		c.client.ClearSession()
		if err = c.ensureSession(ctx); err != nil {
			return err
		}
		err = c.gateway.SubmitMeterReadings(ctx, account, readings, period)
	}
	return err
}

// PaymentLink fetches a payment form URL for the given amount.
func (c *Coordinator) PaymentLink(ctx context.Context, account string, amount float64) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}
	link, err := c.gateway.PaymentLink(ctx, account, amount)
	var unauthorized *ksk.UnauthorizedError
	if errors.As(err, &unauthorized) {
		c.client.ClearSession()
		if err = c.ensureSession(ctx); err != nil {
			return "", err
		}
		link, err = c.gateway.PaymentLink(ctx, account, amount)
	}
	return link, err
}

// ServerTime returns the provider's clock, falling back to local UTC.
func (c *Coordinator) ServerTime(ctx context.Context) time.Time {
	if err := c.ensureSession(ctx); err != nil {
		return time.Now().UTC()
	}
	stamp, err := c.gateway.ServerTime(ctx)
	if err != nil {
		return time.Now().UTC()
	}
	return stamp
}
