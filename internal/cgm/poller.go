package cgm

import (
	"context"
	"log/slog"
	"time"

	"github.com/mrcode/glucocalc/internal/models"
)

// initialLookback bounds the first sync when the database is empty.
const initialLookback = 24 * time.Hour

// Store is the subset of the storage layer the poller writes to.
type Store interface {
	SaveGlucoseReadings(ctx context.Context, readings []models.GlucoseReading) (int, error)
	SaveTreatments(ctx context.Context, treatments []models.Treatment) (int, error)
	LatestGlucoseDate(ctx context.Context, userID string) (int64, error)
}

// Poller periodically pulls new readings and treatments from the feed
// and stores them. OnReading, when set, is called with each newly
// stored reading so the serving layer can push it to stream clients.
type Poller struct {
	client    *Client
	store     Store
	logger    *slog.Logger
	userID    string
	interval  time.Duration
	OnReading func(models.GlucoseReading)
}

// NewPoller creates a poller for the given user's feed.
func NewPoller(client *Client, store Store, userID string, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:   client,
		store:    store,
		logger:   logger,
		userID:   userID,
		interval: interval,
	}
}

// Run syncs immediately and then on every tick until ctx is canceled.
// Sync failures are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("feed poller started", "userId", p.userID, "interval", p.interval)

	if err := p.SyncOnce(ctx); err != nil {
		p.logger.Warn("feed sync failed", "error", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("feed poller stopped")
			return
		case <-ticker.C:
			if err := p.SyncOnce(ctx); err != nil {
				p.logger.Warn("feed sync failed", "error", err)
			}
		}
	}
}

// SyncOnce fetches everything newer than the last stored reading.
func (p *Poller) SyncOnce(ctx context.Context) error {
	since, err := p.store.LatestGlucoseDate(ctx, p.userID)
	if err != nil {
		return err
	}

	from := time.Now().Add(-initialLookback)
	if since > 0 {
		// Overlap by one reading interval so nothing is missed;
		// the unique index drops duplicates.
		from = time.UnixMilli(since).Add(-5 * time.Minute)
	}

	readings, err := p.client.GetEntries(ctx, p.userID, from, 0)
	if err != nil {
		return err
	}

	stored := 0
	if len(readings) > 0 {
		stored, err = p.store.SaveGlucoseReadings(ctx, readings)
		if err != nil {
			return err
		}
	}

	treatments, err := p.client.GetTreatments(ctx, p.userID, from, 0)
	if err != nil {
		return err
	}
	if len(treatments) > 0 {
		if _, err := p.store.SaveTreatments(ctx, treatments); err != nil {
			return err
		}
	}

	if stored > 0 {
		p.logger.Debug("feed sync complete",
			"readings", stored, "treatments", len(treatments))
		if p.OnReading != nil {
			// Readings arrive oldest first from the window overlap;
			// push only the newest one.
			latest := readings[0]
			for _, r := range readings[1:] {
				if r.Date > latest.Date {
					latest = r
				}
			}
			p.OnReading(latest)
		}
	}
	return nil
}
