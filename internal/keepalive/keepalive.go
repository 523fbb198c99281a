// Package keepalive pings external game servers on a fixed cadence so
// their hosting platforms do not idle them out. Health results are
// logged only; an unhealthy game never mutates room state.
package keepalive

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/models"
)

const (
	// PingInterval is the supervisor cadence.
	PingInterval = 5 * time.Minute
	// PingTimeout bounds each health request.
	PingTimeout = 30 * time.Second

	userAgent = "lobbyd-keepalive/1.0"
)

// Store is the slice of the datastore the supervisor needs.
type Store interface {
	GetExternalGames(ctx context.Context) ([]*models.Game, error)
}

// Supervisor pings every active external game server.
type Supervisor struct {
	store  Store
	client *http.Client
	logger *logrus.Logger
}

func NewSupervisor(store Store, logger *logrus.Logger) *Supervisor {
	return &Supervisor{
		store:  store,
		client: &http.Client{Timeout: PingTimeout},
		logger: logger,
	}
}

// PingAll fetches the external game list and hits each /health endpoint
// once. Failures are logged and skipped.
func (s *Supervisor) PingAll(ctx context.Context) {
	games, err := s.store.GetExternalGames(ctx)
	if err != nil {
		s.logger.Errorf("keepalive: list external games: %v", err)
		return
	}
	for _, g := range games {
		s.ping(ctx, g)
	}
}

func (s *Supervisor) ping(ctx context.Context, g *models.Game) {
	url := strings.TrimRight(g.ServerURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.logger.Warnf("keepalive: bad server url for %s: %v", g.Slug, err)
		return
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"game": g.Slug,
			"url":  url,
		}).Warnf("keepalive ping failed: %v", err)
		return
	}
	resp.Body.Close()

	fields := logrus.Fields{
		"game":    g.Slug,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.WithFields(fields).Debug("keepalive ping ok")
	} else {
		s.logger.WithFields(fields).Warn("keepalive ping unhealthy")
	}
}

// Run drives the supervisor until ctx is cancelled. One pass fires
// immediately so freshly deployed servers are warmed without waiting a
// full interval.
func (s *Supervisor) Run(ctx context.Context) {
	s.PingAll(ctx)
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PingAll(ctx)
		}
	}
}

// SetClient swaps the HTTP client. Tests only.
func (s *Supervisor) SetClient(c *http.Client) { s.client = c }
