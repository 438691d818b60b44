package roomshare

import (
	"sort"
	"time"
)

// MatchFilters narrow the candidate set before scoring. Zero values mean
// "no constraint" for their field.
type MatchFilters struct {
	MaxBudget  int64
	Gender     string
	MoveInDate time.Time
	Limit      int
}

// Match pairs a candidate share with the applicant's compatibility score.
type Match struct {
	Share *Share
	Score int
}

// FindMatches ranks active shares for an applicant. Cheap filters run before
// scoring; results are ordered by score descending with newest-first
// tiebreak. The function is pure over the given snapshot, so callers can
// restart it at will.
func FindMatches(shares []*Share, applicant ApplicantProfile, filters MatchFilters) []Match {
	applicant = applicant.normalized()
	gender := NormalizeGender(filters.Gender)

	matches := make([]Match, 0, len(shares))
	for _, share := range shares {
		if share == nil || share.Status != StatusActive {
			continue
		}
		if !filters.MoveInDate.IsZero() {
			if share.AvailableFrom.After(filters.MoveInDate) {
				continue
			}
			if share.AvailableTill != nil && share.AvailableTill.Before(filters.MoveInDate) {
				continue
			}
		}
		if filters.MaxBudget > 0 && share.CostShares.RentPerPerson > filters.MaxBudget {
			continue
		}
		if gender != GenderAny {
			required := NormalizeGender(share.Requirements.Gender)
			if required != GenderAny && required != gender {
				continue
			}
		}
		matches = append(matches, Match{
			Share: share,
			Score: Score(share.Requirements, applicant, share.CostShares.RentPerPerson),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Share.CreatedAt.After(matches[j].Share.CreatedAt)
	})

	if filters.Limit > 0 && len(matches) > filters.Limit {
		matches = matches[:filters.Limit]
	}
	return matches
}
