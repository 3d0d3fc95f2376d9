// Package engagement derives a subscriber's engagement tier from their
// rolling-window counters.
//
// Classification is a pure function with no side effects; it never fails.
package engagement

import (
	"github.com/almanacmail/almanac/internal/models"
)

// Open-rate thresholds for tier classification.
const (
	// EngagedOpenRate is the open rate above which a subscriber is Engaged.
	EngagedOpenRate = 0.70
	// ModerateOpenRate is the open rate above which a subscriber is Moderate.
	ModerateOpenRate = 0.30
)

// Classify maps rolling-window counters to an engagement tier.
//
// A subscriber with any reply ever is a Replier, unconditionally and
// permanently: the tier is sticky and never downgraded by later inactivity.
// Otherwise the tier follows the open rate; a subscriber with zero
// deliveries is Passive (no division by zero).
func Classify(delivered, opens, repliesEver int) models.EngagementTier {
	if repliesEver > 0 {
		return models.TierReplier
	}
	if delivered == 0 {
		return models.TierPassive
	}
	openRate := float64(opens) / float64(delivered)
	switch {
	case openRate > EngagedOpenRate:
		return models.TierEngaged
	case openRate > ModerateOpenRate:
		return models.TierModerate
	default:
		return models.TierPassive
	}
}

// ClassifySubscriber is a convenience wrapper over Classify for a full record.
func ClassifySubscriber(sub models.Subscriber) models.EngagementTier {
	return Classify(sub.Delivered, sub.Opens, sub.RepliesEver)
}
