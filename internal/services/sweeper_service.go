package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"golang-pos-backend/internal/repositories"
)

const (
	intentSweepInterval = 3 * time.Second
	openCloseInterval   = 1 * time.Minute
	archiveInterval     = 24 * time.Hour
	archiveAfter        = 90 * 24 * time.Hour
)

// SweeperService runs the background maintenance loops: expiring stale
// payment intents, flipping is_open for restaurants on automatic hours, and
// archiving old completed orders.
type SweeperService struct {
	db             TxRunner
	payments       *PaymentService
	restaurantRepo repositories.RestaurantRepository
	orderRepo      repositories.OrderRepository
	logger         zerolog.Logger

	intentTicker  *time.Ticker
	hoursTicker   *time.Ticker
	archiveTicker *time.Ticker
	stopChan      chan struct{}
}

func NewSweeperService(
	db TxRunner,
	payments *PaymentService,
	restaurantRepo repositories.RestaurantRepository,
	orderRepo repositories.OrderRepository,
	logger zerolog.Logger,
) *SweeperService {
	return &SweeperService{
		db:             db,
		payments:       payments,
		restaurantRepo: restaurantRepo,
		orderRepo:      orderRepo,
		logger:         logger.With().Str("component", "sweeper").Logger(),
		stopChan:       make(chan struct{}),
	}
}

func (s *SweeperService) Start() {
	s.intentTicker = time.NewTicker(intentSweepInterval)
	s.hoursTicker = time.NewTicker(openCloseInterval)
	s.archiveTicker = time.NewTicker(archiveInterval)

	go func() {
		for {
			select {
			case <-s.intentTicker.C:
				s.sweepIntents()
			case <-s.hoursTicker.C:
				s.applyOpeningHours()
			case <-s.archiveTicker.C:
				s.archiveOldOrders()
			case <-s.stopChan:
				return
			}
		}
	}()

	s.logger.Info().
		Dur("intent_interval", intentSweepInterval).
		Dur("hours_interval", openCloseInterval).
		Msg("sweeper started")
}

func (s *SweeperService) Stop() {
	if s.intentTicker != nil {
		s.intentTicker.Stop()
	}
	if s.hoursTicker != nil {
		s.hoursTicker.Stop()
	}
	if s.archiveTicker != nil {
		s.archiveTicker.Stop()
	}
	close(s.stopChan)
	s.logger.Info().Msg("sweeper stopped")
}

func (s *SweeperService) sweepIntents() {
	ctx, cancel := context.WithTimeout(context.Background(), intentSweepInterval)
	defer cancel()

	if n := s.payments.SweepPendingIntents(ctx); n > 0 {
		s.logger.Info().Int("expired", n).Msg("expired stale payment intents")
	}
}

// applyOpeningHours flips is_open for every restaurant on automatic hours
// whose stored flag disagrees with its schedule.
func (s *SweeperService) applyOpeningHours() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	err := s.db.RunAsSystem(ctx, func(txCtx context.Context) error {
		restaurants, err := s.restaurantRepo.ListAutoOpenClose(txCtx)
		if err != nil {
			return err
		}
		for i := range restaurants {
			r := &restaurants[i]
			shouldBeOpen := IsOpenAt(r, now)
			if r.IsOpen == shouldBeOpen {
				continue
			}
			r.IsOpen = shouldBeOpen
			if err := s.restaurantRepo.Update(txCtx, r); err != nil {
				s.logger.Error().Err(err).Str("restaurant_id", r.ID.String()).Msg("failed to flip open state")
				continue
			}
			s.logger.Info().Str("restaurant_id", r.ID.String()).Bool("is_open", shouldBeOpen).Msg("opening hours applied")
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("opening-hours sweep failed")
	}
}

func (s *SweeperService) archiveOldOrders() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-archiveAfter)
	var archived int64
	err := s.db.RunAsSystem(ctx, func(txCtx context.Context) error {
		var err error
		archived, err = s.orderRepo.ArchiveOlderThan(txCtx, cutoff)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("order archive sweep failed")
		return
	}
	if archived > 0 {
		s.logger.Info().Int64("orders", archived).Time("cutoff", cutoff).Msg("orders archived")
	}
}
