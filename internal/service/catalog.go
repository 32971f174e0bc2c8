// Package service normalises car catalog queries between the HTTP handlers
// and the upstream client.
package service

import (
	"context"
	"log/slog"
	"strings"

	"carlisting-api/internal/model"
)

// Paging bounds for the makes listing.
const (
	DefaultPage  = 1
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Upstream is the subset of the car API client used by CatalogService.
type Upstream interface {
	ListMakes(ctx context.Context, page, limit int) (model.Payload, error)
	ListModels(ctx context.Context, carMake string) (model.Payload, error)
	ListYears(ctx context.Context, carMake, carModel string) (model.Payload, error)
}

// CatalogService serves the car makes, models and years lookups.
type CatalogService struct {
	upstream Upstream
	logger   *slog.Logger
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(u Upstream, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		upstream: u,
		logger:   logger.With("component", "catalog_service"),
	}
}

// Makes returns one page of makes. Missing or out-of-range paging values
// fall back to the defaults; limit is clamped to MaxLimit.
func (s *CatalogService) Makes(ctx context.Context, q model.MakesQuery) (model.Payload, error) {
	n := NormalizeMakes(q)
	if n != q {
		s.logger.Debug("makes paging normalized",
			"page", q.Page, "limit", q.Limit,
			"normalized_page", n.Page, "normalized_limit", n.Limit,
		)
	}
	return s.upstream.ListMakes(ctx, n.Page, n.Limit)
}

// Models returns the models of a make.
func (s *CatalogService) Models(ctx context.Context, q model.ModelsQuery) (model.Payload, error) {
	return s.upstream.ListModels(ctx, strings.TrimSpace(q.Make))
}

// Years returns the model years of a make and model.
func (s *CatalogService) Years(ctx context.Context, q model.YearsQuery) (model.Payload, error) {
	return s.upstream.ListYears(ctx, strings.TrimSpace(q.Make), strings.TrimSpace(q.Model))
}

// NormalizeMakes applies the paging defaults and bounds.
func NormalizeMakes(q model.MakesQuery) model.MakesQuery {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	switch {
	case q.Limit < 1:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	return q
}
