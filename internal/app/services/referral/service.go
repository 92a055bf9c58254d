// Package referral implements the referral graph engine: one referrer per
// user, cycle-free edge creation, ancestor chain walks and team counting.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/Meridian-Network/rewards_core/internal/app/domain/referral"
	"github.com/Meridian-Network/rewards_core/internal/app/storage"
	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

// Service maintains the referral forest.
type Service struct {
	accounts storage.AccountStore
	store    storage.ReferralStore
	log      *logger.Logger
}

// New constructs a referral service.
func New(accounts storage.AccountStore, store storage.ReferralStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("referral")
	}
	return &Service{
		accounts: accounts,
		store:    store,
		log:      log,
	}
}

// CreateEdge links referee to referrer. It rejects self references, referees
// that already have an active referrer, and edges that would close a cycle.
func (s *Service) CreateEdge(ctx context.Context, refereeID, referrerID string) (domain.Edge, error) {
	refereeID = strings.TrimSpace(refereeID)
	referrerID = strings.TrimSpace(referrerID)

	if refereeID == "" || referrerID == "" {
		return domain.Edge{}, fmt.Errorf("referee and referrer ids are required")
	}
	if refereeID == referrerID {
		return domain.Edge{}, fmt.Errorf("%w: %s", domain.ErrSelfReferral, refereeID)
	}

	if existing, err := s.store.GetEdge(ctx, refereeID); err == nil && existing.Status == domain.StatusActive {
		return domain.Edge{}, fmt.Errorf("%w: %s", domain.ErrAlreadyReferred, refereeID)
	} else if err != nil && !errors.Is(err, domain.ErrEdgeNotFound) {
		return domain.Edge{}, err
	}

	// walk the referrer's own chain; finding the referee there means the new
	// edge would close a cycle
	chain, err := s.AncestorChain(ctx, referrerID, domain.MaxChainDepth)
	if err != nil {
		return domain.Edge{}, err
	}
	for _, ancestor := range chain {
		if ancestor == refereeID {
			return domain.Edge{}, fmt.Errorf("%w: %s is an ancestor of %s", domain.ErrCyclicReferral, refereeID, referrerID)
		}
	}

	if s.accounts != nil {
		if _, err := s.accounts.EnsureAccount(ctx, refereeID); err != nil {
			return domain.Edge{}, err
		}
		if _, err := s.accounts.EnsureAccount(ctx, referrerID); err != nil {
			return domain.Edge{}, err
		}
	}

	edge, err := s.store.CreateEdge(ctx, domain.Edge{RefereeID: refereeID, ReferrerID: referrerID})
	if err != nil {
		return domain.Edge{}, err
	}
	s.log.WithField("referee_id", refereeID).
		WithField("referrer_id", referrerID).
		Info("referral edge created")
	return edge, nil
}

// AncestorChain returns the referrer chain above userID, nearest first,
// bounded by maxDepth. Revoked edges terminate the chain: a revoked referee
// earns nothing and contributes no ancestors.
func (s *Service) AncestorChain(ctx context.Context, userID string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 || maxDepth > domain.MaxChainDepth {
		maxDepth = domain.MaxChainDepth
	}

	var chain []string
	current := userID
	for depth := 0; depth < maxDepth; depth++ {
		edge, err := s.store.GetEdge(ctx, current)
		if errors.Is(err, domain.ErrEdgeNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if edge.Status != domain.StatusActive {
			break
		}
		chain = append(chain, edge.ReferrerID)
		current = edge.ReferrerID
	}
	return chain, nil
}

// Revoke soft-deletes the referee's edge. Historical ledger entries remain
// untouched; future commission computation for this referee yields zero.
func (s *Service) Revoke(ctx context.Context, refereeID string) (domain.Edge, error) {
	edge, err := s.store.RevokeEdge(ctx, strings.TrimSpace(refereeID))
	if err != nil {
		return domain.Edge{}, err
	}
	s.log.WithField("referee_id", edge.RefereeID).
		WithField("referrer_id", edge.ReferrerID).
		Info("referral edge revoked")
	return edge, nil
}

// DirectReferrals lists the active edges pointing at userID.
func (s *Service) DirectReferrals(ctx context.Context, userID string) ([]domain.Edge, error) {
	return s.store.ListDirectReferrals(ctx, userID)
}

// TeamDescendantCount counts all active descendants of userID in the
// referral forest, bounded to MaxChainDepth generations. The count feeds
// membership level evaluation and may lag reality slightly under concurrent
// signups.
func (s *Service) TeamDescendantCount(ctx context.Context, userID string) (int, error) {
	count := 0
	frontier := []string{userID}
	for depth := 0; depth < domain.MaxChainDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			edges, err := s.store.ListDirectReferrals(ctx, id)
			if err != nil {
				return 0, err
			}
			for _, edge := range edges {
				count++
				next = append(next, edge.RefereeID)
			}
		}
		frontier = next
	}
	return count, nil
}
