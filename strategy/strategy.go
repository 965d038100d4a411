package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/internal/pool"
	"github.com/luminetic/ensemble/types"
)

// Kind names a distribution strategy.
type Kind string

const (
	KindParallel     Kind = "parallel"
	KindSequential   Kind = "sequential"
	KindHierarchical Kind = "hierarchical"
	KindAdaptive     Kind = "adaptive"
	KindGrouped      Kind = "grouped"
)

// ParseKind converts a configuration or API string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindParallel, KindSequential, KindHierarchical, KindAdaptive, KindGrouped:
		return k, nil
	default:
		return "", types.NewValidationError(fmt.Sprintf("unknown strategy kind %q", s))
	}
}

// Target is one candidate model for a domain. Affinity in [0,1] expresses
// how well the model fits the domain; it seeds the grouped-strategy tiers
// and serves as the confidence fallback when the backend reports none.
type Target struct {
	Model    string    `json:"model"`
	Affinity float64   `json:"affinity,omitempty"`
	Options  types.Map `json:"options,omitempty"`
}

// DomainPlan assigns candidate targets to one domain.
type DomainPlan struct {
	Domain  string   `json:"domain"`
	Targets []Target `json:"targets"`
}

// Input is one coordination request. Task may reference context keys as
// {{key}} placeholders.
type Input struct {
	Task    string       `json:"task"`
	Domains []DomainPlan `json:"domains"`
	Context types.Map    `json:"context,omitempty"`
	// Strategy selects the execution shape; empty defers to the engine's
	// configured default.
	Strategy Kind `json:"strategy,omitempty"`
	// FoundationDomain names the domain the hierarchical strategy runs
	// first; empty means the first declared domain.
	FoundationDomain string `json:"foundation_domain,omitempty"`
}

func (in *Input) validate() error {
	if in == nil {
		return types.NewValidationError("coordination input is nil")
	}
	for i, d := range in.Domains {
		if d.Domain == "" {
			return types.NewValidationError(fmt.Sprintf("domain at position %d has an empty name", i))
		}
		for j, t := range d.Targets {
			if t.Model == "" {
				return types.NewValidationError(fmt.Sprintf("domain %q target at position %d has an empty model", d.Domain, j))
			}
		}
	}
	return nil
}

// unit is one (domain, target) pair, the atom of distributed execution.
type unit struct {
	domain string
	target Target
}

func (u unit) sourceID() string {
	return u.domain + "/" + u.target.Model
}

// expandDomains flattens the plan into units in declared order.
func expandDomains(in *Input) []unit {
	var units []unit
	for _, d := range in.Domains {
		for _, t := range d.Targets {
			units = append(units, unit{domain: d.Domain, target: t})
		}
	}
	return units
}

// Generator is the single backend capability the strategy engine consumes.
// *client.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req backend.Request) (*backend.Response, error)
}

// Coordinator runs one distribution strategy over an input.
type Coordinator interface {
	// Name identifies the strategy.
	Name() Kind
	// Run executes every unit and returns their contributions. Unit
	// failures surface as zero-confidence contributions, not errors; the
	// returned error reports invalid input or context cancellation.
	Run(ctx context.Context, in *Input) ([]types.Contribution, error)
}

// Deps carries a coordinator's collaborators. Generator is required. A nil
// Pool gets an internal pool sized from Config whose idle workers retire on
// their own; callers that pass a Pool keep its lifecycle. A nil Logger is
// replaced with a no-op one.
type Deps struct {
	Generator Generator
	Pool      *pool.Pool
	Config    config.CoordinationConfig
	Logger    *zap.Logger
}

// NewCoordinator builds the coordinator for the given strategy kind.
func NewCoordinator(kind Kind, deps Deps) (Coordinator, error) {
	if deps.Generator == nil {
		return nil, types.NewValidationError("strategy generator is required")
	}
	return coordinatorFor(kind, newRunner(deps))
}

func coordinatorFor(kind Kind, r *runner) (Coordinator, error) {
	switch kind {
	case KindParallel:
		return &parallelCoordinator{r}, nil
	case KindSequential:
		return &sequentialCoordinator{r}, nil
	case KindHierarchical:
		return &hierarchicalCoordinator{r}, nil
	case KindAdaptive:
		return &adaptiveCoordinator{r}, nil
	case KindGrouped:
		return &groupedCoordinator{r}, nil
	default:
		return nil, types.NewValidationError(fmt.Sprintf("unknown strategy kind %q", kind))
	}
}
