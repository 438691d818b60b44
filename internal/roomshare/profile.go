package roomshare

import "strings"

const (
	GenderAny    = "any"
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// RequirementProfile is the poster's stated requirements for co-tenants.
type RequirementProfile struct {
	Gender      string   `json:"gender"`
	MinAge      int      `json:"min_age"`
	MaxAge      int      `json:"max_age"`
	Preferences []string `json:"preferences"`
	Lifestyle   []string `json:"lifestyle"`
}

// ApplicantProfile is supplied by the profile service for the applying user.
type ApplicantProfile struct {
	Gender      string   `json:"gender"`
	Age         int      `json:"age"`
	Preferences []string `json:"preferences"`
	Lifestyle   []string `json:"lifestyle"`
	Budget      int64    `json:"budget"`
}

func NormalizeGender(gender string) string {
	gender = strings.ToLower(strings.TrimSpace(gender))
	if gender == "" {
		return GenderAny
	}
	return gender
}

// NormalizeTags lowercases, trims and de-duplicates a tag list while
// preserving first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func (r RequirementProfile) normalized() RequirementProfile {
	return RequirementProfile{
		Gender:      NormalizeGender(r.Gender),
		MinAge:      r.MinAge,
		MaxAge:      r.MaxAge,
		Preferences: NormalizeTags(r.Preferences),
		Lifestyle:   NormalizeTags(r.Lifestyle),
	}
}

func (p ApplicantProfile) normalized() ApplicantProfile {
	return ApplicantProfile{
		Gender:      NormalizeGender(p.Gender),
		Age:         p.Age,
		Preferences: NormalizeTags(p.Preferences),
		Lifestyle:   NormalizeTags(p.Lifestyle),
		Budget:      p.Budget,
	}
}
