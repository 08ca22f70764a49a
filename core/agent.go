package core

import "time"

// Performance holds the running counters of an agent.
type Performance struct {
	TasksCompleted int `json:"tasksCompleted"`
	// SuccessRate is the fraction of successful reports, in [0,1].
	SuccessRate float64 `json:"successRate"`
	// AverageResponseTime is the running mean in milliseconds.
	AverageResponseTime  float64 `json:"averageResponseTime"`
	ConflictResolutions  int     `json:"conflictResolutions"`
	PatternContributions int     `json:"patternContributions"`
}

// Record folds one outcome into the running averages without rescanning history.
func (p *Performance) Record(success bool, responseTimeMs float64) {
	p.TasksCompleted++
	n := float64(p.TasksCompleted)
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.SuccessRate = (p.SuccessRate*(n-1) + outcome) / n
	p.AverageResponseTime = (p.AverageResponseTime*(n-1) + responseTimeMs) / n
}

// Reliability is the success rate, or a neutral 0.5 for agents without reports.
func (p Performance) Reliability() float64 {
	if p.TasksCompleted == 0 {
		return 0.5
	}
	return p.SuccessRate
}

// Agent is a coordination participant.
type Agent struct {
	ID              string      `json:"id"`
	Role            Role        `json:"role"`
	Specializations []string    `json:"specializations"`
	SessionIDs      []string    `json:"sessionIds"`
	Performance     Performance `json:"performance"`
	LastActivityAt  time.Time   `json:"lastActivityAt"`
}

// HasSpecialization reports whether the agent lists s.
func (a *Agent) HasSpecialization(s string) bool {
	return containsString(a.Specializations, s)
}

// SharedSpecializations counts specializations present on both agents.
func (a *Agent) SharedSpecializations(other *Agent) int {
	n := 0
	for _, s := range a.Specializations {
		if other.HasSpecialization(s) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Specializations = cloneStrings(a.Specializations)
	c.SessionIDs = cloneStrings(a.SessionIDs)
	return &c
}
