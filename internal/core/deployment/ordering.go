package deployment

import (
	"fmt"

	"github.com/artpar/launchpad/internal/core/domain"
)

// =============================================================================
// Tiers
// =============================================================================

// Tier is a set of services sharing one DeployOrder. Services within a tier may
// deploy in parallel; tier N+1 starts only after every call of tier N resolved.
type Tier struct {
	Order    int
	Services []domain.Service
}

// Tiers groups services by DeployOrder ascending. Services inside a tier are
// sorted by name, then id.
//
// Example:
//
//	// db(0) cache(0) api(1) web(2)
//	tiers := Tiers(services)
//	// Result: [{0 [cache db]} {1 [api]} {2 [web]}]
func Tiers(services []domain.Service) []Tier {
	if len(services) == 0 {
		return nil
	}

	sorted := make([]domain.Service, len(services))
	copy(sorted, services)
	domain.SortByDeployOrder(sorted)

	var tiers []Tier
	for _, svc := range sorted {
		if n := len(tiers); n > 0 && tiers[n-1].Order == svc.DeployOrder {
			tiers[n-1].Services = append(tiers[n-1].Services, svc)
			continue
		}
		tiers = append(tiers, Tier{Order: svc.DeployOrder, Services: []domain.Service{svc}})
	}
	return tiers
}

// Flatten returns the services of all tiers in deploy order.
func Flatten(tiers []Tier) []domain.Service {
	var out []domain.Service
	for _, t := range tiers {
		out = append(out, t.Services...)
	}
	return out
}

// =============================================================================
// Selection
// =============================================================================

// FilterServices keeps the services whose ids appear in ids, preserving the
// input order. An empty ids selects everything. Ids that match no service are
// returned in unknown.
func FilterServices(services []domain.Service, ids []string) (selected []domain.Service, unknown []string) {
	if len(ids) == 0 {
		return services, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = false
	}
	for _, svc := range services {
		if _, ok := want[svc.ID]; ok {
			selected = append(selected, svc)
			want[svc.ID] = true
		}
	}
	for _, id := range ids {
		if found, ok := want[id]; ok && !found {
			unknown = append(unknown, id)
			delete(want, id)
		}
	}
	return selected, unknown
}

// =============================================================================
// Dependencies
// =============================================================================

// Dependencies maps each service id to the ids of the services it waits for.
//
// A service that declares DependsOn waits for the named services only. A
// service without a declaration waits for every service in a strictly lower
// tier. Declared names that are not part of the run, or that sit in the same
// or a higher tier, are ignored: tier order is what the run can honor.
func Dependencies(tiers []Tier) map[string][]string {
	type placed struct {
		id   string
		tier int
	}
	byName := make(map[string]placed)
	for i, t := range tiers {
		for _, svc := range t.Services {
			byName[svc.Name] = placed{id: svc.ID, tier: i}
		}
	}

	deps := make(map[string][]string)
	var lower []string
	for i, t := range tiers {
		for _, svc := range t.Services {
			if len(svc.DependsOn) == 0 {
				deps[svc.ID] = append([]string(nil), lower...)
				continue
			}
			var ids []string
			for _, name := range svc.DependsOn {
				if p, ok := byName[name]; ok && p.tier < i {
					ids = append(ids, p.id)
				}
			}
			deps[svc.ID] = ids
		}
		for _, svc := range t.Services {
			lower = append(lower, svc.ID)
		}
	}
	return deps
}

// ShouldSkip reports whether serviceID must be skipped because one of its
// dependencies failed or was itself skipped. The reason names the first such
// dependency.
func ShouldSkip(serviceID string, deps map[string][]string, outcomes map[string]Outcome) (bool, string) {
	for _, dep := range deps[serviceID] {
		o, ok := outcomes[dep]
		if !ok {
			continue
		}
		switch o.Status {
		case OutcomeFailed:
			return true, fmt.Sprintf("dependency %s failed", o.label())
		case OutcomeSkipped:
			return true, fmt.Sprintf("dependency %s was skipped", o.label())
		}
	}
	return false, ""
}
