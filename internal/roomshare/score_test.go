package roomshare

import "testing"

func TestScore_SpecExample(t *testing.T) {
	req := RequirementProfile{
		Gender:      "female",
		MinAge:      18,
		MaxAge:      25,
		Preferences: []string{"non-smoker", "student"},
		Lifestyle:   []string{"study_focused"},
	}
	applicant := ApplicantProfile{
		Gender:      "female",
		Age:         20,
		Preferences: []string{"non-smoker"},
		Lifestyle:   []string{"study_focused", "home_cooking"},
		Budget:      5200,
	}

	// gender 20 + age 15 + preferences 30*(1/2) + lifestyle 25*(1/1) + budget 10
	if got := Score(req, applicant, 5000); got != 85 {
		t.Fatalf("Score = %d, want 85", got)
	}
}

func TestScore_Deterministic(t *testing.T) {
	req := RequirementProfile{Gender: "any", MinAge: 18, MaxAge: 30, Preferences: []string{"quiet"}, Lifestyle: []string{"early_riser"}}
	applicant := ApplicantProfile{Gender: "male", Age: 22, Preferences: []string{"quiet"}, Lifestyle: []string{"night_owl"}, Budget: 4000}

	first := Score(req, applicant, 4500)
	for i := 0; i < 50; i++ {
		if got := Score(req, applicant, 4500); got != first {
			t.Fatalf("Score is not deterministic: %d != %d", got, first)
		}
	}
}

func TestScore_Bounds(t *testing.T) {
	perfect := ApplicantProfile{Gender: "female", Age: 21, Preferences: []string{"non-smoker"}, Lifestyle: []string{"vegetarian"}, Budget: 5000}
	req := RequirementProfile{Gender: "female", MinAge: 18, MaxAge: 25, Preferences: []string{"non-smoker"}, Lifestyle: []string{"vegetarian"}}
	if got := Score(req, perfect, 5000); got != 100 {
		t.Fatalf("full match score = %d, want 100", got)
	}

	mismatch := ApplicantProfile{Gender: "male", Age: 40, Preferences: []string{"smoker"}, Lifestyle: []string{"party"}, Budget: 50000}
	if got := Score(req, mismatch, 5000); got != 0 {
		t.Fatalf("full mismatch score = %d, want 0", got)
	}
}

func TestScore_EmptyRequirementSets(t *testing.T) {
	req := RequirementProfile{Gender: "any", MinAge: 18, MaxAge: 99}
	applicant := ApplicantProfile{Gender: "other", Age: 25, Preferences: []string{"anything"}, Budget: 3000}

	// gender 20 + age 15 + budget 10; no tag credit without stated requirements
	if got := Score(req, applicant, 3500); got != 45 {
		t.Fatalf("Score = %d, want 45", got)
	}
}

func TestScore_BudgetTolerance(t *testing.T) {
	req := RequirementProfile{Gender: "any", MinAge: 0, MaxAge: 0}
	applicant := ApplicantProfile{Gender: "male", Age: 5, Budget: 6000}

	withinScore := Score(req, applicant, 5000)
	applicant.Budget = 6001
	outsideScore := Score(req, applicant, 5000)
	if withinScore-outsideScore != 10 {
		t.Fatalf("budget component mismatch: within=%d outside=%d", withinScore, outsideScore)
	}
}

func TestScore_CaseInsensitiveTags(t *testing.T) {
	req := RequirementProfile{Gender: "Female", MinAge: 18, MaxAge: 30, Preferences: []string{"Non-Smoker"}}
	applicant := ApplicantProfile{Gender: "FEMALE", Age: 20, Preferences: []string{"non-smoker"}, Budget: 0}

	// gender 20 + age 15 + preferences 30
	if got := Score(req, applicant, 9000); got != 65 {
		t.Fatalf("Score = %d, want 65", got)
	}
}
