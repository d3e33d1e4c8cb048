package service

import (
	"context"
	"errors"
	"log"
	"time"

	"tokosync/terminal/internal/domain"
	"tokosync/terminal/internal/gateway"
)

// SyncNow runs one reconciliation pass: drain the pending-order queue in
// enqueue order, then pull the tenant's authoritative state from the
// gateway. Delivery is at-least-once; the server deduplicates by order id.
// One stuck order does not block the rest of the queue, but a rejected
// credential aborts the pass since every further attempt would fail the
// same way.
func (s *Service) SyncNow(ctx context.Context) (*domain.SyncResult, error) {
	result := &domain.SyncResult{}
	if s.gateway == nil {
		return result, nil
	}

	pending, err := s.store.ListPendingOrders(ctx, s.tenantID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		// Nothing queued: skip the network entirely.
		return result, nil
	}

	for _, entry := range pending {
		result.Attempted++
		if err := s.gateway.CreateOrder(ctx, entry.Order); err != nil {
			result.Failed++
			if markErr := s.store.MarkPendingAttempt(ctx, entry.OrderID, err.Error()); markErr != nil {
				log.Printf("[service] WARN: failed to record attempt for %s: %v", entry.OrderID, markErr)
			}
			if errors.Is(err, gateway.ErrUnauthorized) {
				log.Printf("[service] WARN: sync aborted, credential rejected")
				return result, err
			}
			log.Printf("[service] WARN: order %s still pending: %v", entry.OrderID, err)
			continue
		}
		if err := s.store.DeletePendingOrder(ctx, entry.OrderID); err != nil {
			// The order was delivered; a leftover queue entry is retried
			// and deduplicated server-side rather than lost.
			log.Printf("[service] WARN: delivered order %s not dequeued: %v", entry.OrderID, err)
		}
		result.Delivered++
	}

	// Refresh after any drain pass, even one where every delivery failed:
	// the gateway may still be reachable and holding newer state (orders
	// can be rejected while reads succeed).
	if result.Attempted > 0 {
		if err := s.refreshFromGateway(ctx); err != nil {
			log.Printf("[service] WARN: post-sync refresh failed: %v", err)
		} else {
			result.Refreshed = true
		}
		s.markSynced()
	}
	return result, nil
}

// Bootstrap primes the terminal at startup: refresh from the gateway when it
// answers, otherwise run from whatever the local store already has.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.gateway != nil {
		if err := s.gateway.Ping(ctx); err != nil {
			log.Printf("[service] WARN: gateway unreachable, starting from local cache: %v", err)
		} else if err := s.refreshFromGateway(ctx); err != nil {
			log.Printf("[service] WARN: initial refresh failed, starting from local cache: %v", err)
		} else {
			s.markSynced()
		}
	}

	snap, err := s.store.LoadLocalState(ctx, s.tenantID)
	if err != nil {
		return err
	}
	log.Printf("[service] local state: %d products, %d orders, %d stock logs",
		len(snap.Products), len(snap.Orders), len(snap.StockLogs))
	return nil
}

// refreshFromGateway installs the server's snapshot wholesale. Server wins:
// local cached rows for the tenant are discarded, the pending queue and
// local users survive.
func (s *Service) refreshFromGateway(ctx context.Context) error {
	snap, err := s.gateway.FetchTenantState(ctx, s.tenantID)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceTenantState(ctx, s.tenantID, snap); err != nil {
		return err
	}
	s.invalidateSearchCache(ctx)
	return nil
}

func (s *Service) markSynced() {
	now := time.Now().UTC()
	s.syncMu.Lock()
	s.lastSyncAt = &now
	s.syncMu.Unlock()
}

func (s *Service) SyncStatus(ctx context.Context) (*domain.SyncStatus, error) {
	count, err := s.store.CountPendingOrders(ctx, s.tenantID)
	if err != nil {
		return nil, err
	}
	s.syncMu.Lock()
	last := s.lastSyncAt
	s.syncMu.Unlock()
	return &domain.SyncStatus{PendingCount: count, LastSyncAt: last}, nil
}
