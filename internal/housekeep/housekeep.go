// Package housekeep runs the registry-wide periodic health sweep. It is
// purely diagnostic: it reads published device snapshots and logs devices
// that look stuck, but never touches sockets or device state — only each
// device's own worker is allowed to do that.
package housekeep

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/zet017/zet017tcp/internal/obslog"
)

// Snapshot is the slice of device state the sweep inspects.
type Snapshot struct {
	IP        string
	Connected bool
	Reconnect uint64
}

// Source returns the current snapshot of every registered device.
type Source func() []Snapshot

// Keeper owns the cron schedule and the per-device progress memory used to
// tell "reconnecting" apart from "stuck".
type Keeper struct {
	cron   *cron.Cron
	logger *slog.Logger
	source Source

	// reconnect counter observed at the previous tick, keyed by IP
	seen map[string]uint64
}

// New creates a Keeper sweeping on the given cron schedule.
func New(schedule string, logger *slog.Logger, source Source) (*Keeper, error) {
	k := &Keeper{
		logger: obslog.WithComponent(logger, "housekeep"),
		source: source,
		seen:   make(map[string]uint64),
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, k.sweep); err != nil {
		return nil, fmt.Errorf("adding housekeeping job: %w", err)
	}
	k.cron = c

	return k, nil
}

// Start begins sweeping in the background.
func (k *Keeper) Start() {
	k.cron.Start()
	k.logger.Info("housekeeping started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (k *Keeper) Stop() {
	ctx := k.cron.Stop()
	<-ctx.Done()
	k.logger.Info("housekeeping stopped")
}

// sweep logs a warning for every device that is disconnected and whose
// reconnect counter has not advanced since the previous tick. A device
// mid-reconnect advances the counter and stays quiet.
func (k *Keeper) sweep() {
	current := make(map[string]uint64)
	for _, s := range k.source() {
		current[s.IP] = s.Reconnect
		if s.Connected {
			continue
		}
		prev, ok := k.seen[s.IP]
		if ok && prev == s.Reconnect {
			k.logger.Warn("device appears stuck reconnecting",
				"ip", s.IP,
				"reconnect", s.Reconnect,
			)
		}
	}
	k.seen = current
}
