package tenant

import (
	"fmt"
	"math"
	"time"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
)

var planRank = map[models.Plan]int{
	models.PlanBasic:        1,
	models.PlanProfessional: 2,
	models.PlanTrial:        2,
}

// RequirePlan fails with runtime.ErrPlanRequired unless t's plan includes
// the features of required. Trial tenants get professional features.
func RequirePlan(t models.Tenant, required models.Plan) error {
	if planRank[t.Plan] >= planRank[required] {
		return nil
	}
	return fmt.Errorf("%w: %s plan required, tenant is on %s", runtime.ErrPlanRequired, required, t.Plan)
}

// TrialStatus summarizes a trial for the back office banner.
type TrialStatus struct {
	OnTrial     bool `json:"on_trial"`
	DaysLeft    int  `json:"days_left"`
	Expired     bool `json:"expired"`
	ShowWarning bool `json:"show_warning"`
}

// TrialStatusOf reports the trial state at now. The warning shows when three
// days or fewer remain.
func TrialStatusOf(t models.Tenant, now time.Time) TrialStatus {
	if t.Plan != models.PlanTrial || t.TrialEndsAt == nil {
		return TrialStatus{}
	}
	left := t.TrialEndsAt.Sub(now)
	days := int(math.Floor(left.Hours() / 24))
	if days < 0 {
		days = 0
	}
	expired := !now.Before(*t.TrialEndsAt)
	return TrialStatus{
		OnTrial:     true,
		DaysLeft:    days,
		Expired:     expired,
		ShowWarning: days <= 3,
	}
}
