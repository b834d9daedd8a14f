package domain

// PlanLimits are the quota limits attached to a plan.
type PlanLimits struct {
	MaxAppointmentsPerMonth int `json:"max_appointments_per_month"`
	MaxServices             int `json:"max_services"`
	MaxStaff                int `json:"max_staff"`
}

// Plan is one entry of the static billing catalog.
type Plan struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	PriceCents int64      `json:"price_cents"`
	Currency   string     `json:"currency"`
	Interval   string     `json:"interval"`
	Features   []string   `json:"features"`
	Limits     PlanLimits `json:"limits"`
	TrialDays  int        `json:"trial_days"`
}

// planCatalog is ordered cheapest first for display purposes.
var planCatalog = []Plan{
	{
		ID:         "basic",
		Name:       "Básico",
		PriceCents: 9700,
		Currency:   "brl",
		Interval:   "month",
		Features: []string{
			"whatsapp_bot",
			"online_booking",
			"reminders",
		},
		Limits:    PlanLimits{MaxAppointmentsPerMonth: 200, MaxServices: 10, MaxStaff: 2},
		TrialDays: 7,
	},
	{
		ID:         "professional",
		Name:       "Profissional",
		PriceCents: 19700,
		Currency:   "brl",
		Interval:   "month",
		Features: []string{
			"whatsapp_bot",
			"online_booking",
			"reminders",
			"conversation_history",
			"reports",
		},
		Limits:    PlanLimits{MaxAppointmentsPerMonth: 1000, MaxServices: 50, MaxStaff: 10},
		TrialDays: 7,
	},
	{
		ID:         "enterprise",
		Name:       "Empresarial",
		PriceCents: 39700,
		Currency:   "brl",
		Interval:   "month",
		Features: []string{
			"whatsapp_bot",
			"online_booking",
			"reminders",
			"conversation_history",
			"reports",
			"multi_location",
			"priority_support",
		},
		Limits:    PlanLimits{MaxAppointmentsPerMonth: -1, MaxServices: -1, MaxStaff: -1},
		TrialDays: 14,
	},
}

// Plans returns the full catalog.
func Plans() []Plan {
	out := make([]Plan, len(planCatalog))
	copy(out, planCatalog)
	return out
}

// PlanByID is a pure catalog lookup.
func PlanByID(id string) (*Plan, error) {
	for i := range planCatalog {
		if planCatalog[i].ID == id {
			p := planCatalog[i]
			return &p, nil
		}
	}
	return nil, ErrUnknownPlan
}
