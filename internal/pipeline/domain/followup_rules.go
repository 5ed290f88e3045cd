package domain

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed followup_rules.yaml
var defaultFollowUpRulesYAML []byte

// FollowUpRule describes one task created when a lead enters a stage.
type FollowUpRule struct {
	OffsetDays int    `yaml:"offset_days"`
	Type       string `yaml:"type"`
	Priority   string `yaml:"priority"`
	Title      string `yaml:"title"`
}

// FollowUpRules maps a target stage to the tasks its entry creates.
type FollowUpRules map[Stage][]FollowUpRule

type followUpRulesFile struct {
	Rules []struct {
		Stage string         `yaml:"stage"`
		Tasks []FollowUpRule `yaml:"tasks"`
	} `yaml:"rules"`
}

var validTaskPriorities = map[string]struct{}{
	"low": {}, "normal": {}, "high": {}, "urgent": {},
}

// DefaultFollowUpRules returns the built-in rule table.
func DefaultFollowUpRules() FollowUpRules {
	rules, err := ParseFollowUpRules(defaultFollowUpRulesYAML)
	if err != nil {
		panic("embedded follow-up rules are invalid: " + err.Error())
	}
	return rules
}

// LoadFollowUpRules reads a rule table from path, or returns the defaults when path is empty.
func LoadFollowUpRules(path string) (FollowUpRules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultFollowUpRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read follow-up rules: %w", err)
	}
	return ParseFollowUpRules(raw)
}

// ParseFollowUpRules decodes and validates a YAML rule table.
func ParseFollowUpRules(raw []byte) (FollowUpRules, error) {
	var file followUpRulesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode follow-up rules: %w", err)
	}

	rules := make(FollowUpRules, len(file.Rules))
	for _, entry := range file.Rules {
		stage, err := ParseStage(entry.Stage)
		if err != nil {
			return nil, err
		}
		if _, dup := rules[stage]; dup {
			return nil, fmt.Errorf("stage %s listed twice in follow-up rules", stage)
		}
		for _, task := range entry.Tasks {
			if task.OffsetDays <= 0 {
				return nil, fmt.Errorf("stage %s: offset_days must be positive, got %d", stage, task.OffsetDays)
			}
			if strings.TrimSpace(task.Title) == "" || strings.TrimSpace(task.Type) == "" {
				return nil, fmt.Errorf("stage %s: task title and type are required", stage)
			}
			if _, ok := validTaskPriorities[task.Priority]; !ok {
				return nil, fmt.Errorf("stage %s: unknown task priority %q", stage, task.Priority)
			}
		}
		rules[stage] = entry.Tasks
	}
	return rules, nil
}

// TasksFor builds the follow-up tasks for a lead that entered stage at enteredAt.
func (r FollowUpRules) TasksFor(l Lead, stage Stage, enteredAt time.Time) []Task {
	defs := r[stage]
	if len(defs) == 0 {
		return nil
	}
	leadID := l.ID
	tasks := make([]Task, 0, len(defs))
	for _, def := range defs {
		tasks = append(tasks, Task{
			ID:        uuid.New(),
			LeadID:    &leadID,
			Title:     strings.ReplaceAll(def.Title, "{lead}", l.DisplayName()),
			Type:      def.Type,
			Priority:  def.Priority,
			DueAt:     enteredAt.AddDate(0, 0, def.OffsetDays),
			CreatedAt: enteredAt,
		})
	}
	return tasks
}
