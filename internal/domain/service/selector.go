package service

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
	apperrors "github.com/xyz-jphil/ccapis/pkg/errors"
)

// PoolProvider yields the current credential pool snapshot. The watcher owns
// the live pool; the selector reads the pointer once per selection.
type PoolProvider interface {
	Pool() *entity.CredentialPool
}

// UsageFetcher is the selector's view of the upstream client.
type UsageFetcher interface {
	FetchUsage(ctx context.Context, cred *entity.Credential) (*entity.UsageSnapshot, error)
}

// RoutingStrategy names how a credential was chosen, for the request log.
type RoutingStrategy string

const (
	RoutingSorted     RoutingStrategy = "sorted"
	RoutingRoundRobin RoutingStrategy = "round_robin"
)

// Selection is the outcome of one credential pick.
type Selection struct {
	Credential  *entity.Credential
	Strategy    RoutingStrategy
	Utilization float64 // five-hour utilization at selection time, 0 when unknown
}

// maximum concurrent usage refreshes per selection
const refreshParallelism = 4

// Selector picks the best credential for the next request: it filters to
// active, available credentials, refreshes stale usage, and sorts by
// five-hour utilization, then usage-to-time ratio, then tier (paid first).
// When the breaker is disabled or no candidate survives filtering, a shared
// round-robin index over all active credentials takes over.
type Selector struct {
	pool   PoolProvider
	health *HealthMonitor
	usage  UsageFetcher
	rr     atomic.Uint64
	sf     singleflight.Group
	logger *zap.Logger
}

// NewSelector creates a selector over the given pool, health monitor, and
// usage fetcher.
func NewSelector(pool PoolProvider, health *HealthMonitor, usage UsageFetcher, logger *zap.Logger) *Selector {
	return &Selector{
		pool:   pool,
		health: health,
		usage:  usage,
		logger: logger.With(zap.String("component", "selector")),
	}
}

// Select picks a credential for one request. It returns an error only when
// the pool has no active credential at all.
func (s *Selector) Select(ctx context.Context) (*Selection, error) {
	pool := s.pool.Pool()
	if pool == nil {
		return nil, apperrors.NewNoCredentialsError("credential pool not loaded")
	}
	active := pool.Active()
	if len(active) == 0 {
		return nil, apperrors.NewNoCredentialsError("no active credentials configured")
	}

	if !s.health.Config().Enabled {
		return s.roundRobin(active), nil
	}

	candidates := make([]*entity.Credential, 0, len(active))
	for _, c := range active {
		if s.health.IsAvailable(c.ID()) {
			candidates = append(candidates, c)
		}
	}

	s.refreshStale(ctx, candidates)

	// A failed refresh may have tripped a candidate.
	available := candidates[:0]
	for _, c := range candidates {
		if s.health.IsAvailable(c.ID()) {
			available = append(available, c)
		}
	}

	if len(available) == 0 {
		s.logger.Warn("No available credential, falling back to round-robin",
			zap.Int("active", len(active)),
		)
		return s.roundRobin(active), nil
	}

	now := time.Now().UTC()
	type ranked struct {
		cred  *entity.Credential
		util  float64
		ratio float64
	}
	rankings := make([]ranked, 0, len(available))
	for _, c := range available {
		rec := s.health.Get(c.ID())
		r := ranked{cred: c}
		if w, ok := rec.LatestUsage.FiveHour(); ok {
			r.util = w.Utilization
			r.ratio = w.UsageToTimeRatio(now)
		}
		rankings = append(rankings, r)
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		a, b := rankings[i], rankings[j]
		if a.util != b.util {
			return a.util < b.util
		}
		if a.ratio != b.ratio {
			return a.ratio < b.ratio
		}
		return a.cred.Tier() > b.cred.Tier()
	})

	best := rankings[0]
	return &Selection{Credential: best.cred, Strategy: RoutingSorted, Utilization: best.util}, nil
}

// refreshStale fetches usage for candidates whose snapshot is missing or old.
// Refreshes run in parallel, deduplicated per credential across concurrent
// selections. Failures are classified into the health monitor; the refresh
// itself never fails the selection.
func (s *Selector) refreshStale(ctx context.Context, candidates []*entity.Credential) {
	var g errgroup.Group
	g.SetLimit(refreshParallelism)

	for _, c := range candidates {
		if !c.Flags().TrackUsage || !s.health.IsUsageStale(c.ID()) {
			continue
		}
		cred := c
		g.Go(func() error {
			_, err, _ := s.sf.Do(cred.Key(), func() (interface{}, error) {
				snapshot, err := s.usage.FetchUsage(ctx, cred)
				if err != nil {
					return nil, err
				}
				s.health.UpdateUsage(cred.ID(), snapshot)
				return snapshot, nil
			})
			if err != nil {
				kind := ClassifyFailure(err)
				s.health.RecordFailure(cred.ID(), kind)
				s.logger.Warn("Usage refresh failed",
					zap.String("credential", cred.ID()),
					zap.String("kind", kind.String()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// roundRobin advances the shared wrap-around index over the active set.
func (s *Selector) roundRobin(active []*entity.Credential) *Selection {
	idx := int((s.rr.Add(1) - 1) % uint64(len(active)))
	cred := active[idx]
	rec := s.health.Get(cred.ID())
	util := rec.LatestUsage.FiveHourUtilization()
	return &Selection{Credential: cred, Strategy: RoutingRoundRobin, Utilization: util}
}
