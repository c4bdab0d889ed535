package refresh

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
)

// Inspection is a dry-run build used for troubleshooting. Nothing is
// published.
type Inspection struct {
	TotalEmployees int                 `json:"total_employees"`
	RawEmployees   []orgchart.Employee `json:"raw_employees"`
	Hierarchy      *orgchart.Node      `json:"hierarchy"`
	RootRule       orgchart.RootRule   `json:"root_rule"`
	HasManagers    bool                `json:"has_managers"`
}

// Inspect fetches and builds a tree outside the refresh lifecycle.
func (s *Scheduler) Inspect(ctx context.Context) (*Inspection, error) {
	if s.offline {
		return nil, ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	recs, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching directory: %w", err)
	}
	emps, _ := orgchart.NewNormalizer(s.recency(), s.logger.Underlying()).NormalizeAll(recs, s.now())

	in := &Inspection{TotalEmployees: len(emps), RawEmployees: emps}
	for _, e := range emps {
		if e.ManagerID != nil {
			in.HasManagers = true
			break
		}
	}
	if len(emps) == 0 {
		return in, nil
	}
	in.Hierarchy, in.RootRule, err = s.builder.BuildWithRule(emps)
	if err != nil {
		return nil, fmt.Errorf("building hierarchy: %w", err)
	}
	return in, nil
}
