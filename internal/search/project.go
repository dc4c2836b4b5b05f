package search

import (
	"strings"

	"bitechat/internal/domain"
)

// Placeholders for fields a hit does not carry.
const (
	NoInfo          = "No information available"
	NoPopularDishes = "Popular dishes not available"
	NoReviewSummary = "Review summary not available"
)

// Project maps a raw hit to the tool-facing result, filling missing fields.
func Project(src Source) domain.VenueResult {
	return domain.VenueResult{
		Info:          orPlaceholder(src.Info, NoInfo),
		PopularDishes: orPlaceholder(src.Food, NoPopularDishes),
		ReviewSummary: orPlaceholder(src.ReviewSummary, NoReviewSummary),
	}
}

func orPlaceholder(v *string, placeholder string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return placeholder
	}
	return *v
}
