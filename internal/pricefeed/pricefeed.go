// Package pricefeed defines the injected usd-value source the PnL engine
// depends on for unrealized value, resolving Open Question #2 in
// SPEC_FULL.md: this module does not own price discovery (explicitly out of
// scope as "the governance/oracle services"), it only defines and consumes
// the boundary interface, with a reference in-memory implementation for
// tests.
package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/walletmemory/core/internal/errors"
)

// PricePoint is a single price observation.
type PricePoint struct {
	USD       float64
	ObservedAt time.Time
	Stale     bool
}

// Source resolves a current USD price for a mint.
type Source interface {
	Price(ctx context.Context, mint string) (PricePoint, error)
}

// StaticSource is a reference in-memory Source backed by a fixed map of
// mint -> price, with a configurable staleness window.
type StaticSource struct {
	mu       sync.RWMutex
	prices   map[string]PricePoint
	maxAge   time.Duration
}

// NewStaticSource constructs an empty StaticSource. maxAge <= 0 disables
// staleness checking.
func NewStaticSource(maxAge time.Duration) *StaticSource {
	return &StaticSource{prices: make(map[string]PricePoint), maxAge: maxAge}
}

// Set records a price observation for mint.
func (s *StaticSource) Set(mint string, usd float64, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[mint] = PricePoint{USD: usd, ObservedAt: observedAt}
}

// Price returns the last recorded observation for mint, marking it stale if
// older than maxAge.
func (s *StaticSource) Price(_ context.Context, mint string) (PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[mint]
	if !ok {
		return PricePoint{}, errors.NotFound("price", mint)
	}
	if s.maxAge > 0 && time.Since(p.ObservedAt) > s.maxAge {
		p.Stale = true
	}
	return p, nil
}
