package catalog

import (
	"context"
	"sort"
	"sync"

	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
)

// Store is the read boundary for the plan catalog. List returns only
// active plans, cheapest first; FindByID resolves any plan so an existing
// session keeps its snapshot even if the plan is later retired.
type Store interface {
	List(ctx context.Context) ([]Plan, error)
	FindByID(ctx context.Context, planID id.PlanID) (Plan, error)
}

// InMemory is the map-backed catalog used in dev mode and tests.
type InMemory struct {
	mu    sync.RWMutex
	plans map[id.PlanID]Plan
}

func NewInMemory(plans ...Plan) *InMemory {
	s := &InMemory{plans: make(map[id.PlanID]Plan, len(plans))}
	for _, plan := range plans {
		s.plans[plan.ID] = plan
	}
	return s
}

func (s *InMemory) List(_ context.Context) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		if plan.Active {
			out = append(out, plan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out, nil
}

func (s *InMemory) FindByID(_ context.Context, planID id.PlanID) (Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[planID]
	if !ok {
		return Plan{}, sentinel.ErrNotFound
	}
	return plan, nil
}

// DefaultPlans is the seed catalog for fresh deployments.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:           id.NewPlanID(),
			Name:         "Starter",
			Description:  "Single-campus schools getting started with digital exams",
			PriceCents:   250_000,
			Currency:     "GNF",
			BillingCycle: "monthly",
			MaxStudents:  300,
			Features:     []string{"exam scheduling", "report cards", "sms notifications"},
			Active:       true,
		},
		{
			ID:           id.NewPlanID(),
			Name:         "Standard",
			Description:  "Growing schools that need multiple campuses and finer roles",
			PriceCents:   450_000,
			Currency:     "GNF",
			BillingCycle: "monthly",
			MaxStudents:  1000,
			Features:     []string{"everything in starter", "multi-campus", "custom roles", "exports"},
			Active:       true,
		},
		{
			ID:           id.NewPlanID(),
			Name:         "Premium",
			Description:  "School groups with dedicated support and API access",
			PriceCents:   800_000,
			Currency:     "GNF",
			BillingCycle: "monthly",
			MaxStudents:  0, // unlimited
			Features:     []string{"everything in standard", "api access", "priority support"},
			Active:       true,
		},
	}
}
