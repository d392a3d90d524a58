package usecase

import (
	"time"

	"BookmarkScout/internal/domain"
)

// Health aggregates run records into pipeline health figures.
type Health struct {
	Total            int                                         `json:"total"`
	Outcomes         map[domain.RunOutcome]int                   `json:"outcomes"`
	DegradedRate     float64                                     `json:"degraded_rate"`
	Delivered        int                                         `json:"delivered"`
	DeliveryFailures int                                         `json:"delivery_failures"`
	Stages           map[domain.Stage]map[domain.StageStatus]int `json:"stages"`
	MeanDuration     time.Duration                               `json:"mean_duration"`
}

// Summarize derives health from finished and in-flight runs.
func Summarize(runs []domain.PipelineRun) Health {
	h := Health{
		Outcomes: map[domain.RunOutcome]int{},
		Stages:   map[domain.Stage]map[domain.StageStatus]int{},
	}
	for _, stage := range domain.Stages {
		h.Stages[stage] = map[domain.StageStatus]int{}
	}

	var degraded, timed int
	var total time.Duration
	for _, run := range runs {
		h.Total++
		outcome := run.Outcome
		if outcome == "" {
			outcome = domain.OutcomeRunning
		}
		h.Outcomes[outcome]++
		if run.Degraded {
			degraded++
		}
		if run.Delivered {
			h.Delivered++
		}
		if _, ok := run.StageErrors[domain.DeliveryKey]; ok {
			h.DeliveryFailures++
		}
		for _, stage := range domain.Stages {
			h.Stages[stage][run.Status(stage)]++
		}
		if d := run.Duration(); d > 0 {
			total += d
			timed++
		}
	}

	if h.Total > 0 {
		h.DegradedRate = float64(degraded) / float64(h.Total)
	}
	if timed > 0 {
		h.MeanDuration = total / time.Duration(timed)
	}
	return h
}

// Readiness reports which agents and destinations are backed by a real client.
type Readiness struct {
	Analysis      bool `json:"analysis"`
	Discovery     bool `json:"discovery"`
	Execution     bool `json:"execution"`
	Synthesis     bool `json:"synthesis"`
	KnowledgeBase bool `json:"knowledge_base"`
}

type configurable interface {
	Configured() bool
}

// Readiness reports the configured state of each stage.
func (p *Pipeline) Readiness() Readiness {
	return Readiness{
		Analysis:      configured(p.analyzer),
		Discovery:     configured(p.discoverer),
		Execution:     configured(p.executor),
		Synthesis:     configured(p.synthesizer),
		KnowledgeBase: p.knowledgeBase != nil,
	}
}

func configured(stage any) bool {
	if stage == nil {
		return false
	}
	if c, ok := stage.(configurable); ok {
		return c.Configured()
	}
	return true
}
