package analytics

import (
	"context"
	"time"

	"bastion/internal/storage"
)

type Source interface {
	CaseCounts(ctx context.Context, guildID string, since time.Time) (map[storage.ActionKind]int, error)
	CountPendingInGuild(ctx context.Context, guildID string) (int, error)
}

type Service struct {
	store Source
}

func New(store Source) *Service {
	return &Service{store: store}
}

// Report summarizes confirmed cases since a point in time.
type Report struct {
	Since   time.Time
	Total   int
	ByKind  map[storage.ActionKind]int
	Pending int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	counts, err := s.store.CaseCounts(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}
	pending, err := s.store.CountPendingInGuild(ctx, guildID)
	if err != nil {
		return Report{}, err
	}

	report := Report{Since: since, ByKind: make(map[storage.ActionKind]int), Pending: pending}
	for _, kind := range storage.ActionKinds {
		report.ByKind[kind] = counts[kind]
		report.Total += counts[kind]
	}
	return report, nil
}
