package engagement

import (
	"testing"

	"github.com/almanacmail/almanac/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		delivered   int
		opens       int
		repliesEver int
		want        models.EngagementTier
	}{
		{"replier beats everything", 100, 0, 1, models.TierReplier},
		{"replier sticky with zero opens", 50, 0, 3, models.TierReplier},
		{"zero delivered is passive", 0, 0, 0, models.TierPassive},
		{"zero delivered with opens is passive", 0, 5, 0, models.TierPassive},
		{"high open rate is engaged", 10, 8, 0, models.TierEngaged},
		{"exactly 70 percent is moderate", 10, 7, 0, models.TierModerate},
		{"mid open rate is moderate", 10, 4, 0, models.TierModerate},
		{"exactly 30 percent is passive", 10, 3, 0, models.TierPassive},
		{"low open rate is passive", 100, 10, 0, models.TierPassive},
		{"everything opened is engaged", 5, 5, 0, models.TierEngaged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.delivered, tt.opens, tt.repliesEver)
			if got != tt.want {
				t.Errorf("Classify(%d, %d, %d) = %s, want %s",
					tt.delivered, tt.opens, tt.repliesEver, got, tt.want)
			}
		})
	}
}

// A subscriber with one historical reply and subsequently zero opens must
// still classify as Replier.
func TestReplierStickiness(t *testing.T) {
	sub := models.Subscriber{Delivered: 200, Opens: 0, RepliesEver: 1}
	if got := ClassifySubscriber(sub); got != models.TierReplier {
		t.Errorf("ClassifySubscriber() = %s, want %s", got, models.TierReplier)
	}
}
