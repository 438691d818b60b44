package roomshare

import "math"

// Scoring weights. The five components sum to 100.
const (
	genderWeight    = 20.0
	ageWeight       = 15.0
	prefWeight      = 30.0
	lifestyleWeight = 25.0
	budgetWeight    = 10.0

	// budgetTolerance is the currency-unit distance between the applicant's
	// budget and the current rent share that still counts as a budget match.
	budgetTolerance = 1000
)

// Score rates how well an applicant fits a poster's requirements, from 0 to
// 100. It is a deterministic heuristic, not a model: gender 20, age range 15,
// preference-tag overlap 30, lifestyle-tag overlap 25, budget proximity 10.
// rentPerPerson is the current per-person rent share of the room.
func Score(req RequirementProfile, applicant ApplicantProfile, rentPerPerson int64) int {
	req = req.normalized()
	applicant = applicant.normalized()

	total := 0.0

	if req.Gender == GenderAny || req.Gender == applicant.Gender {
		total += genderWeight
	}
	if applicant.Age >= req.MinAge && applicant.Age <= req.MaxAge {
		total += ageWeight
	}
	total += prefWeight * overlapRatio(req.Preferences, applicant.Preferences)
	total += lifestyleWeight * overlapRatio(req.Lifestyle, applicant.Lifestyle)

	diff := applicant.Budget - rentPerPerson
	if diff < 0 {
		diff = -diff
	}
	if diff <= budgetTolerance {
		total += budgetWeight
	}

	score := int(math.Round(total))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// overlapRatio is |required ∩ offered| / |required|. A poster with no
// required tags earns no overlap credit rather than free points.
func overlapRatio(required, offered []string) float64 {
	if len(required) == 0 {
		return 0
	}
	offeredSet := make(map[string]struct{}, len(offered))
	for _, tag := range offered {
		offeredSet[tag] = struct{}{}
	}
	matched := 0
	for _, tag := range required {
		if _, ok := offeredSet[tag]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
