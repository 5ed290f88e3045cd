// Package domain holds the pure business rules of the sales pipeline:
// the stage graph, lead scoring, urgency and next-action tables. Nothing in
// here performs I/O.
package domain

import (
	"fmt"
	"strings"
)

// Stage is one node of the fixed pipeline state machine.
type Stage string

const (
	StageProspecting Stage = "prospecting"
	StageSample      Stage = "sample"
	StageQualified   Stage = "qualified"
	StageNegotiation Stage = "negotiation"
	StagePostSale    Stage = "post_sale"
	StageLost        Stage = "lost"
)

var allStages = []Stage{
	StageProspecting,
	StageSample,
	StageQualified,
	StageNegotiation,
	StagePostSale,
	StageLost,
}

// stageGraph is the exhaustive adjacency list. Order is the order reported to callers.
var stageGraph = map[Stage][]Stage{
	StageProspecting: {StageSample, StageLost},
	StageSample:      {StageQualified, StageLost},
	StageQualified:   {StageNegotiation, StageLost},
	StageNegotiation: {StagePostSale, StageQualified, StageLost},
	StagePostSale:    {StageNegotiation},
	StageLost:        {StageProspecting},
}

// stageDeadlineDays is how long a lead may sit in a stage before it is forced to lost.
var stageDeadlineDays = map[Stage]int{
	StageSample:      30,
	StageQualified:   75,
	StageNegotiation: 45,
}

// AllStages returns every stage in pipeline order.
func AllStages() []Stage {
	out := make([]Stage, len(allStages))
	copy(out, allStages)
	return out
}

// IsKnown reports whether s belongs to the fixed stage set.
func (s Stage) IsKnown() bool {
	_, ok := stageGraph[s]
	return ok
}

func (s Stage) String() string { return string(s) }

// ParseStage converts user input into a Stage.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsKnown() {
		return "", fmt.Errorf("unknown pipeline stage %q", raw)
	}
	return s, nil
}

// AllowedTargets returns the stages reachable from s in one move.
func AllowedTargets(s Stage) []Stage {
	targets := stageGraph[s]
	out := make([]Stage, len(targets))
	copy(out, targets)
	return out
}

// CanTransition reports whether to is adjacent to from.
func CanTransition(from, to Stage) bool {
	for _, t := range stageGraph[from] {
		if t == to {
			return true
		}
	}
	return false
}

// StageDeadline returns the number of days a lead may stay in s, if s carries a deadline.
func StageDeadline(s Stage) (int, bool) {
	d, ok := stageDeadlineDays[s]
	return d, ok
}

// JoinStages renders stages as a comma separated list.
func JoinStages(stages []Stage) string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
