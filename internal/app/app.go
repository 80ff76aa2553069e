// Package app owns the per-configuration coordinator table and the HTTP
// surface (metrics, health, status). One entry per configured account;
// entries are created on setup and torn down on unload, with no ambient
// globals beyond this owned table.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kskmon/kskmon/internal/config"
	"github.com/kskmon/kskmon/internal/coordinator"
	"github.com/kskmon/kskmon/internal/entities"
	"github.com/kskmon/kskmon/internal/ksk"
	"github.com/kskmon/kskmon/internal/metrics"
	"github.com/kskmon/kskmon/internal/scheduler"
)

type entry struct {
	coordinator *coordinator.Coordinator
	scheduler   *scheduler.Scheduler
}

type App struct {
	logger   logrus.FieldLogger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

func New(logger logrus.FieldLogger) *App {
	registry := prometheus.NewRegistry()
	return &App{
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(registry),
		entries:  make(map[string]*entry),
	}
}

// Setup builds the coordinator for one configuration, runs the initial
// refresh and starts its schedule. Bad credentials abort the setup;
// transient first-refresh failures don't, since the schedule will try
// again and consumers tolerate an absent snapshot.
func (a *App) Setup(ctx context.Context, cfg *config.Config) error {
	id := cfg.Auth.Username

	a.mu.Lock()
	if _, exists := a.entries[id]; exists {
		a.mu.Unlock()
		return fmt.Errorf("configuration entry %s is already set up", id)
	}
	a.mu.Unlock()

	log := a.logger.WithField("entry", id)

	client := ksk.NewClient(ksk.ClientConfig{
		BaseURL:   cfg.API.BaseURL,
		SiteURL:   cfg.API.SiteURL,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
	}, log, a.metrics)

	auth, err := ksk.NewAuthenticator(cfg.Auth.Strategy, client, cfg.Auth.Token, cfg.API.Timeout, log)
	if err != nil {
		return err
	}

	gateway := ksk.NewGateway(client, ksk.GatewayConfig{
		Retry: ksk.RetryPolicy{
			Timeout:  cfg.API.Timeout,
			MaxTries: cfg.API.MaxTries,
			Delay:    cfg.API.RetryDelay,
		},
		HistoryCacheSize: cfg.Update.HistoryCacheSize,
		HistoryCacheTTL:  cfg.Update.HistoryCacheTTL,
	}, log, a.metrics)

	coord := coordinator.New(client, gateway, auth, coordinator.Config{
		Login:    cfg.Auth.Username,
		Password: cfg.Auth.Password,
		Cooldown: cfg.Update.Cooldown,
	}, log, a.metrics)

	if err := coord.RequestRefresh(ctx); err != nil {
		if errors.Is(err, coordinator.ErrReauthRequired) {
			return err
		}
		log.WithError(err).Warn("Initial refresh failed, keeping the schedule anyway")
	}

	sched := scheduler.New(coord, cfg.Update.Interval, log)
	if err := sched.Start(); err != nil {
		return err
	}

	a.mu.Lock()
	a.entries[id] = &entry{coordinator: coord, scheduler: sched}
	a.mu.Unlock()

	log.WithField("interval", cfg.Update.Interval).Info("Configuration entry set up")
	return nil
}

// Unload stops the schedule for one entry and forgets it.
func (a *App) Unload(id string) {
	a.mu.Lock()
	e, ok := a.entries[id]
	if ok {
		delete(a.entries, id)
	}
	a.mu.Unlock()
	if ok {
		e.scheduler.Stop()
		a.logger.WithField("entry", id).Info("Configuration entry unloaded")
	}
}

// Coordinator returns the coordinator for an entry, nil if unknown.
func (a *App) Coordinator(id string) *coordinator.Coordinator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[id]; ok {
		return e.coordinator
	}
	return nil
}

// Close unloads every entry.
func (a *App) Close() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.Unload(id)
	}
}

// Handler serves /metrics, /healthz and /status.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/status", a.handleStatus)
	return mux
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

type statusSensor struct {
	EntityID string         `json:"entity_id"`
	Name     string         `json:"name"`
	State    any            `json:"state"`
	Attrs    map[string]any `json:"attributes,omitempty"`
}

type statusEntry struct {
	LastRefresh *time.Time     `json:"last_refresh,omitempty"`
	AgeMinutes  *int           `json:"age_minutes,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	Accounts    []string       `json:"accounts"`
	Sensors     []statusSensor `json:"sensors"`
}

// handleStatus reports every entry's last refresh, last error and the
// evaluated sensor set. Stale data stays visible here, annotated with
// its age, rather than disappearing on upstream failures.
func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	coords := make(map[string]*coordinator.Coordinator, len(a.entries))
	for id, e := range a.entries {
		coords[id] = e.coordinator
	}
	a.mu.Unlock()

	status := make(map[string]statusEntry, len(coords))
	for id, coord := range coords {
		se := statusEntry{Accounts: []string{}, Sensors: []statusSensor{}}
		if err := coord.LastError(); err != nil {
			se.LastError = err.Error()
		}
		if snap := coord.Snapshot(); snap != nil {
			fetched := snap.FetchedAt
			se.LastRefresh = &fetched
			age := int(snap.Age(time.Now().UTC()).Minutes())
			se.AgeMinutes = &age
			for _, account := range snap.Accounts {
				se.Accounts = append(se.Accounts, account.Number)
			}
			for _, sensor := range entities.BuildSensors(coord) {
				se.Sensors = append(se.Sensors, statusSensor{
					EntityID: sensor.EntityID(),
					Name:     sensor.Name(),
					State:    sensor.State(),
					Attrs:    sensor.Attributes(),
				})
			}
		}
		status[id] = se
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		a.logger.WithError(err).Error("Failed to encode status response")
	}
}
