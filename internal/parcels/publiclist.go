package parcels

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
)

const maxSuggestions = 5

var ErrInvalidFilter = errors.Invalid.Explain("status must be ALL, UNCLAIMED or OWNED and listing_type ALL, SALE or LEASE")

// PublicList serves the public map. Results are cached per query until the
// next parcel write.
func (s *Service) PublicList(ctx context.Context, query models.PublicListQuery) (*models.PublicListResult, error) {
	q := strings.TrimSpace(query.Q)
	status := strings.ToUpper(strings.TrimSpace(query.Status))
	if status == "" {
		status = "ALL"
	}
	listingType := strings.ToUpper(strings.TrimSpace(query.ListingType))
	if listingType == "" {
		listingType = "ALL"
	}
	if status != "ALL" && !models.ParcelStatus(status).Valid() {
		return nil, ErrInvalidFilter
	}
	if listingType != "ALL" && !models.ListingType(listingType).Valid() {
		return nil, ErrInvalidFilter
	}

	key := fmt.Sprintf("%s|%s|%s", strings.ToLower(q), status, listingType)
	version, err := s.cache.Version(ctx)
	useCache := err == nil
	if err != nil {
		s.logger.Warn("Public list cache unavailable", zap.Error(err))
	}
	if useCache {
		var cached models.PublicListResult
		if hit, err := s.cache.Get(ctx, version, key, &cached); err != nil {
			s.logger.Warn("Public list cache read failed", zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	db := withRelations(s.db.WithContext(ctx)).Order("created_at DESC")
	if status != "ALL" {
		db = db.Where("status = ?", status)
	}
	var all []models.Parcel
	if err := db.Find(&all).Error; err != nil {
		return nil, fmt.Errorf("public list: %w", err)
	}

	needle := strings.ToLower(q)
	result := &models.PublicListResult{Parcels: []models.Parcel{}}
	for i := range all {
		p := &all[i]
		attachListing(p)
		if needle != "" && !matches(p, needle) {
			continue
		}
		// listing type only narrows owned parcels
		if status == string(models.ParcelOwned) && listingType != "ALL" {
			if p.Listing == nil || !p.Listing.Active || string(p.Listing.Type) != listingType {
				continue
			}
		}
		result.Parcels = append(result.Parcels, *p)
	}

	if len(result.Parcels) == 0 && needle != "" {
		suggestions, err := s.suggest(ctx, needle)
		if err != nil {
			return nil, err
		}
		result.Suggestions = suggestions
	}

	if useCache {
		if err := s.cache.Set(ctx, version, key, result); err != nil {
			s.logger.Warn("Public list cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

func matches(p *models.Parcel, needle string) bool {
	for _, field := range []string{p.ParcelID, p.AdminRegion.Country, p.AdminRegion.State, p.AdminRegion.City} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// suggest returns the parcel ids closest to needle by edit distance
func (s *Service) suggest(ctx context.Context, needle string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Parcel{}).Pluck("parcel_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load parcel ids: %w", err)
	}
	type scored struct {
		id   string
		dist int
	}
	ranked := make([]scored, 0, len(ids))
	for _, id := range ids {
		ranked = append(ranked, scored{id: id, dist: levenshtein.ComputeDistance(needle, strings.ToLower(id))})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].dist != ranked[j].dist {
			return ranked[i].dist < ranked[j].dist
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > maxSuggestions {
		ranked = ranked[:maxSuggestions]
	}
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.id)
	}
	return out, nil
}
