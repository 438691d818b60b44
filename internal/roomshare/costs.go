package roomshare

// CostInputs are the room's total monthly amounts, as quoted by the property
// listing. They are never stored per person.
type CostInputs struct {
	MonthlyRent        int64 `json:"monthly_rent"`
	SecurityDeposit    int64 `json:"security_deposit"`
	MaintenanceCharges int64 `json:"maintenance_charges"`
	UtilitiesAmount    int64 `json:"utilities_amount"`
}

// CostShares are the derived per-person amounts. They are recomputed from
// CostInputs and never mutated independently.
type CostShares struct {
	RentPerPerson        int64 `json:"rent_per_person"`
	DepositPerPerson     int64 `json:"deposit_per_person"`
	MaintenancePerPerson int64 `json:"maintenance_per_person"`
	UtilitiesPerPerson   int64 `json:"utilities_per_person"`
}

// SplitCosts derives per-person shares using ceiling division, so the sum
// collected across all slots is never less than the total owed. The poster
// absorbs any remainder.
func SplitCosts(inputs CostInputs, maxParticipants int) CostShares {
	if maxParticipants < 1 {
		maxParticipants = 1
	}
	n := int64(maxParticipants)
	return CostShares{
		RentPerPerson:        ceilDiv(inputs.MonthlyRent, n),
		DepositPerPerson:     ceilDiv(inputs.SecurityDeposit, n),
		MaintenancePerPerson: ceilDiv(inputs.MaintenanceCharges, n),
		UtilitiesPerPerson:   ceilDiv(inputs.UtilitiesAmount, n),
	}
}

func ceilDiv(total, parts int64) int64 {
	if total <= 0 {
		return 0
	}
	return (total + parts - 1) / parts
}
