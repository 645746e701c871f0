package app

import (
	"time"

	"feedwatch/internal/runtime/supervisor"
)

type healthStatus struct {
	Status        string                        `json:"status"`
	Uptime        string                        `json:"uptime"`
	LastCycle     *cycleStatus                  `json:"last_cycle,omitempty"`
	Supervisors   map[string][]supervisor.Stats `json:"supervisors"`
	EventsDropped uint64                        `json:"events_dropped"`
}

type cycleStatus struct {
	ID         string    `json:"id"`
	Outcome    string    `json:"outcome"`
	FinishedAt time.Time `json:"finished_at"`
	Took       string    `json:"took"`
	NewItems   int       `json:"new_items"`
	Recipients int       `json:"recipients"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Frontier   string    `json:"frontier,omitempty"`
	Err        string    `json:"error,omitempty"`
}

// health backs the ops /healthz endpoint. The process is healthy while its
// supervisor has not recorded a fatal error. Failed cycles are reported but
// do not make it unhealthy.
func (a *App) health() (any, bool) {
	st := healthStatus{
		Status:        "ok",
		Supervisors:   map[string][]supervisor.Stats{},
		EventsDropped: a.bus.Dropped(),
	}
	if !a.startedAt.IsZero() {
		st.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	}

	healthy := true
	if a.sup != nil {
		st.Supervisors["app"] = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			healthy = false
			st.Status = "failed: " + err.Error()
		}
	}
	if sup := a.adapter.Supervisor(); sup != nil {
		st.Supervisors["telegram"] = sup.Snapshot()
	}

	if last := a.engine.LastCycle(); last.ID != "" {
		sent, failed := last.Report.Totals()
		cs := &cycleStatus{
			ID:         last.ID,
			Outcome:    string(last.Outcome),
			FinishedAt: last.FinishedAt,
			Took:       last.Duration().String(),
			NewItems:   len(last.NewItems),
			Recipients: last.Recipients,
			Sent:       sent,
			Failed:     failed,
			Frontier:   last.Frontier,
		}
		if last.Err != nil {
			cs.Err = last.Err.Error()
		}
		st.LastCycle = cs
	}
	return st, healthy
}
