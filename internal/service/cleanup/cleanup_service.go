package cleanup

import (
	"context"
	"sort"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/monitor"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/repository"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const JobName = "cleanup-expired-reservations"

type UseCase interface {
	Run(ctx context.Context) (*Result, error)
}

type Result struct {
	ExpiredCleaned    int              `json:"expiredCleaned"`
	DuplicatesCleaned int              `json:"duplicatesCleaned"`
	TotalCleaned      int              `json:"totalCleaned"`
	DuplicateGroups   int              `json:"duplicateGroups"`
	DuplicateDetails  []DuplicateGroup `json:"duplicateDetails"`
	Expired           []ExpiredDetail  `json:"expired"`
}

type ExpiredDetail struct {
	ID         string    `json:"id"`
	EventID    string    `json:"eventId"`
	GuestEmail string    `json:"guestEmail"`
	StartTime  time.Time `json:"startTime"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// DuplicateGroup describes reservations that held the same slot for the same guest.
type DuplicateGroup struct {
	EventID    string    `json:"eventId"`
	StartTime  time.Time `json:"startTime"`
	GuestEmail string    `json:"guestEmail"`
	Count      int       `json:"count"`
	KeptID     string    `json:"keptId"`
	RemovedIDs []string  `json:"removedIds"`
}

type Service struct {
	reservations repository.ReservationRepository
	monitor      monitor.Reporter
	now          func() time.Time
	logger       zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithReporter(r monitor.Reporter) Option {
	return func(s *Service) { s.monitor = r }
}

func NewService(reservations repository.ReservationRepository, opts ...Option) *Service {
	s := &Service{
		reservations: reservations,
		monitor:      monitor.Nop{},
		now:          time.Now,
		logger:       log.With().Str("component", JobName).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Run(ctx context.Context) (*Result, error) {
	res, err := s.run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reservation cleanup failed")
		s.monitor.Failure(ctx, JobName, err)
		return nil, err
	}
	s.monitor.Success(ctx, JobName)
	return res, nil
}

func (s *Service) run(ctx context.Context) (*Result, error) {
	now := s.now().UTC()

	expired, err := s.reservations.DeleteExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	res := &Result{ExpiredCleaned: len(expired), Expired: make([]ExpiredDetail, 0, len(expired))}
	for _, r := range expired {
		res.Expired = append(res.Expired, ExpiredDetail{
			ID:         r.ID,
			EventID:    r.EventID,
			GuestEmail: r.GuestEmail,
			StartTime:  r.StartTime,
			ExpiresAt:  r.ExpiresAt,
		})
		s.logger.Debug().Str("reservation_id", r.ID).Str("event_id", r.EventID).Time("expires_at", r.ExpiresAt).Msg("expired reservation removed")
	}

	active, err := s.reservations.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}
	groups := findDuplicates(active)
	var ids []string
	for _, g := range groups {
		ids = append(ids, g.RemovedIDs...)
	}
	if len(ids) > 0 {
		n, err := s.reservations.DeleteByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		res.DuplicatesCleaned = int(n)
	}
	res.DuplicateGroups = len(groups)
	res.DuplicateDetails = groups
	if res.DuplicateDetails == nil {
		res.DuplicateDetails = []DuplicateGroup{}
	}
	res.TotalCleaned = res.ExpiredCleaned + res.DuplicatesCleaned

	s.logger.Info().
		Int("expired_cleaned", res.ExpiredCleaned).
		Int("duplicates_cleaned", res.DuplicatesCleaned).
		Int("duplicate_groups", res.DuplicateGroups).
		Msg("reservation cleanup finished")
	return res, nil
}

// findDuplicates groups reservations by slot key and keeps the most recently
// created one of each group. Ties on created_at keep the greater id.
func findDuplicates(rs []domain.SlotReservation) []DuplicateGroup {
	byKey := make(map[domain.SlotKey][]domain.SlotReservation)
	var order []domain.SlotKey
	for _, r := range rs {
		k := r.Key()
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], r)
	}

	var groups []DuplicateGroup
	for _, k := range order {
		members := byKey[k]
		if len(members) < 2 {
			continue
		}
		keep := 0
		for i := 1; i < len(members); i++ {
			if newer(members[i], members[keep]) {
				keep = i
			}
		}
		g := DuplicateGroup{
			EventID:    k.EventID,
			StartTime:  k.StartTime,
			GuestEmail: k.GuestEmail,
			Count:      len(members),
			KeptID:     members[keep].ID,
		}
		for i, m := range members {
			if i != keep {
				g.RemovedIDs = append(g.RemovedIDs, m.ID)
			}
		}
		sort.Strings(g.RemovedIDs)
		groups = append(groups, g)
	}
	return groups
}

func newer(a, b domain.SlotReservation) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

var _ UseCase = (*Service)(nil)
