package deployment

import "github.com/artpar/launchpad/internal/core/events"

// =============================================================================
// Progress
// =============================================================================

// Progress values reported on status events.
const (
	ProgressQueued    = 0
	ProgressBuilding  = 10
	ProgressDeploying = 70
	ProgressSettled   = 100
)

// =============================================================================
// Outcomes
// =============================================================================

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the settled result of one service within a run.
type Outcome struct {
	ServiceID       string        `json:"service_id"`
	ServiceName     string        `json:"service_name"`
	Status          OutcomeStatus `json:"status"`
	DeploymentID    string        `json:"deployment_id,omitempty"`
	URL             string        `json:"url,omitempty"`
	Error           string        `json:"error,omitempty"`
	Attempts        int           `json:"attempts"`
	DurationSeconds int           `json:"duration_seconds"`
}

func (o Outcome) label() string {
	if o.ServiceName != "" {
		return o.ServiceName
	}
	return o.ServiceID
}

// Aggregate reduces per-service outcomes to the run status: success when
// every service succeeded, failed when none did, partial_failure otherwise.
// An empty run has nothing that succeeded and is reported failed.
func Aggregate(outcomes []Outcome) events.RunStatus {
	succeeded := 0
	for _, o := range outcomes {
		if o.Status == OutcomeSuccess {
			succeeded++
		}
	}
	switch {
	case succeeded == 0:
		return events.RunFailed
	case succeeded == len(outcomes):
		return events.RunSuccess
	default:
		return events.RunPartialFailure
	}
}

// Summaries converts outcomes to the completed-event payload entries.
func Summaries(outcomes []Outcome) []events.ServiceOutcome {
	out := make([]events.ServiceOutcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = events.ServiceOutcome{
			ServiceID:    o.ServiceID,
			ServiceName:  o.ServiceName,
			Status:       string(o.Status),
			DeploymentID: o.DeploymentID,
			URL:          o.URL,
			Error:        o.Error,
		}
	}
	return out
}
