package deliberate

import (
	"context"

	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/similarity"
)

// Tracker measures round-over-round convergence. From round 2 onward each
// participant's response is compared to its own previous response; the
// debate is converging when everyone has stopped moving.
type Tracker struct {
	cfg     config.ConvergenceConfig
	backend similarity.Backend

	prev map[string]string

	// stableHigh counts consecutive rounds with min similarity at or
	// above the convergence threshold; stableMid the same for the band
	// between the divergence floor and the threshold.
	stableHigh int
	stableMid  int
}

// NewTracker creates a tracker for one deliberation.
func NewTracker(cfg config.ConvergenceConfig, backend similarity.Backend) *Tracker {
	return &Tracker{cfg: cfg, backend: backend, prev: make(map[string]string)}
}

// Observe records a round's responses and returns the convergence
// measurement, or nil before any previous round exists. Failed responses
// (error markers) are excluded from the comparison.
func (t *Tracker) Observe(ctx context.Context, responses []model.RoundResponse) *model.ConvergenceInfo {
	perParticipant := make(map[string]float64)
	for _, rr := range responses {
		if rr.Failed {
			continue
		}
		if prev, ok := t.prev[rr.Participant]; ok {
			perParticipant[rr.Participant] = t.backend.Compute(ctx, prev, rr.Response)
		}
	}
	for _, rr := range responses {
		if !rr.Failed {
			t.prev[rr.Participant] = rr.Response
		}
	}
	if len(perParticipant) == 0 {
		return nil
	}

	min, sum := 1.0, 0.0
	for _, s := range perParticipant {
		if s < min {
			min = s
		}
		sum += s
	}

	info := &model.ConvergenceInfo{
		MinSimilarity:  min,
		AvgSimilarity:  sum / float64(len(perParticipant)),
		PerParticipant: perParticipant,
	}

	switch {
	case min >= t.cfg.Threshold:
		t.stableHigh++
		t.stableMid = 0
		info.StableRounds = t.stableHigh
		if t.stableHigh >= t.cfg.StableRounds {
			info.Status = model.StatusConverged
		} else {
			info.Status = model.StatusRefining
		}
	case min >= t.cfg.DivergenceFloor:
		t.stableMid++
		t.stableHigh = 0
		info.StableRounds = t.stableMid
		if t.stableMid >= t.cfg.StableRounds {
			info.Status = model.StatusImpasse
		} else {
			info.Status = model.StatusRefining
		}
	default:
		t.stableHigh, t.stableMid = 0, 0
		info.Status = model.StatusDiverging
	}
	return info
}

// ShouldStop reports whether the measurement ends the debate, honoring
// the minimum round floor.
func (t *Tracker) ShouldStop(info *model.ConvergenceInfo, round int) bool {
	if info == nil || round < t.cfg.MinRounds {
		return false
	}
	return info.Status == model.StatusConverged || info.Status == model.StatusImpasse
}

// FinalStatus resolves the node status by precedence: voting outcomes
// first, then the last semantic measurement, then max_rounds.
func FinalStatus(voting *model.VotingResult, convergence *model.ConvergenceInfo, hitMaxRounds bool) model.ConvergenceStatus {
	if voting != nil && len(voting.Votes) > 0 {
		switch {
		case voting.WinningOption != nil && voting.Tally[*voting.WinningOption] == len(voting.Votes):
			return model.StatusUnanimousConsensus
		case voting.WinningOption != nil:
			return model.StatusMajorityDecision
		default:
			return model.StatusTie
		}
	}
	if convergence != nil && convergence.Status.Valid() {
		return convergence.Status
	}
	if hitMaxRounds {
		return model.StatusMaxRounds
	}
	return model.StatusUnknown
}
