package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/logger"
	"github.com/ZeusMX2125/topstep-engine/internal/store"
)

// Supervisor runs one Bot per configured account as independent units.
// Accounts share nothing: tokens, rate windows and risk state all live
// inside their own Bot.
type Supervisor struct {
	bots []*Bot
}

func NewSupervisor(cfg *config.Config, snapshots store.SnapshotRepo) (*Supervisor, error) {
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}
	s := &Supervisor{}
	for _, acct := range cfg.Accounts {
		b, err := New(cfg, acct, snapshots)
		if err != nil {
			return nil, err
		}
		s.bots = append(s.bots, b)
	}
	return s, nil
}

// Start brings every account up; a failure stops the ones already running
// before reporting.
func (s *Supervisor) Start(ctx context.Context) error {
	var started []*Bot
	for _, b := range s.bots {
		if err := b.Start(ctx); err != nil {
			for _, prev := range started {
				prev.Stop()
			}
			return err
		}
		started = append(started, b)
	}
	logger.Info("supervisor started", "accounts", len(s.bots))
	return nil
}

// Stop shuts every account down concurrently and waits for all of them.
func (s *Supervisor) Stop() {
	var wg sync.WaitGroup
	for _, b := range s.bots {
		wg.Add(1)
		go func(b *Bot) {
			defer wg.Done()
			b.Stop()
		}(b)
	}
	wg.Wait()
	logger.Info("supervisor stopped")
}

// Bots exposes the running accounts for status readers.
func (s *Supervisor) Bots() []*Bot {
	return s.bots
}
