package briefing

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/engine"
	"github.com/newthinker/p2parb/internal/storage/archive"
)

// FlightPlan is the persisted plan of a rotation: the chosen route, whose
// Plan field lists the phases to execute.
type FlightPlan struct {
	RotationID string    `json:"rotation_id"`
	CreatedAt  time.Time `json:"created_at"`
	engine.Route
}

// PlanPath is where the plan of a rotation is kept in the archive.
func PlanPath(id string) string {
	return path.Join("plans", id+".json")
}

func (s *Service) loadPlan(ctx context.Context, id string) (*FlightPlan, error) {
	var fp FlightPlan
	err := archive.ReadJSON(ctx, s.plans, PlanPath(id), &fp)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, core.Errorf(core.ErrPlanNotFound, "%s", id)
	}
	if err != nil {
		return nil, err
	}
	if fp.RotationID == "" {
		fp.RotationID = id
	}
	return &fp, nil
}

func (s *Service) savePlan(ctx context.Context, fp *FlightPlan) error {
	return archive.WriteJSON(ctx, s.plans, PlanPath(fp.RotationID), fp)
}

func (s *Service) planExists(ctx context.Context, id string) (bool, error) {
	return s.plans.Exists(ctx, PlanPath(id))
}

// loopCycle builds one extra cycle that buys with and converts back to the
// loop currency, followed by the closing phase.
func loopCycle(cycle int, loop, selling string) []engine.Phase {
	return []engine.Phase{
		{Cycle: cycle, PhaseInCycle: 1, Type: core.TxAchat, Market: loop,
			Description: fmt.Sprintf("Cycle %d - buy with %s", cycle, loop)},
		{Cycle: cycle, PhaseInCycle: 2, Type: core.TxVente, Market: selling,
			Description: fmt.Sprintf("Cycle %d - sell in %s", cycle, selling)},
		{Cycle: cycle, PhaseInCycle: 3, Type: core.TxConversion, MarketFrom: selling, MarketTo: loop,
			Description: fmt.Sprintf("Cycle %d - convert to %s", cycle, loop)},
		{Cycle: cycle, PhaseInCycle: 4, Type: core.TxCloture, Market: loop,
			Description: fmt.Sprintf("Close after cycle %d", cycle)},
	}
}
