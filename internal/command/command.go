// Package command turns short operator phrases ("form a swarm of 6 for
// market analysis in finance and retail") into orchestration intents. It is
// a list of case-insensitive patterns; the first one that matches wins.
package command

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Intent names an orchestration action.
type Intent string

const (
	IntentAssignTask      Intent = "assign_task"
	IntentCoordinateTasks Intent = "coordinate_tasks"
	IntentFormSwarm       Intent = "form_swarm"
	IntentDisbandSwarm    Intent = "disband_swarm"
	IntentFleetStatus     Intent = "fleet_status"
	IntentScaleSector     Intent = "scale_sector"
	IntentPauseAgent      Intent = "pause_agent"
	IntentResumeAgent     Intent = "resume_agent"
	IntentQueueStatus     Intent = "queue_status"
)

// Argument keys.
const (
	ArgTask      = "task"
	ArgAgent     = "agent"
	ArgSwarm     = "swarm"
	ArgSize      = "size"
	ArgObjective = "objective"
	ArgSectors   = "sectors"
	ArgSector    = "sector"
	ArgTarget    = "target"
)

var (
	ErrEmptyCommand   = errors.New("empty command")
	ErrUnknownCommand = errors.New("unrecognized command")
)

// Command is a parsed intent with its captured arguments.
type Command struct {
	Intent Intent            `json:"intent"`
	Args   map[string]string `json:"args"`
	Raw    string            `json:"raw"`
}

// Int returns an integer argument.
func (c Command) Int(key string) (int, bool) {
	v, ok := c.Args[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// List returns a comma separated argument as a slice.
func (c Command) List(key string) []string {
	v := c.Args[key]
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

type rule struct {
	intent Intent
	re     *regexp.Regexp
	keys   []string // capture group i+1 -> keys[i]
}

var rules = []rule{
	{IntentAssignTask, regexp.MustCompile(`(?i)^assign\s+(?:task\s+)?(\S+)(?:\s+to\s+(?:agent\s+)?(\S+))?$`), []string{ArgTask, ArgAgent}},
	{IntentCoordinateTasks, regexp.MustCompile(`(?i)^(?:coordinate|schedule|dispatch)\s+(?:all\s+)?(?:(?:the|pending)\s+)*tasks?$`), nil},
	{IntentFormSwarm, regexp.MustCompile(`(?i)^(?:form|create|assemble|deploy)\s+(?:a\s+)?swarm(?:\s+of\s+(\d+)(?:\s+agents)?)?\s+(?:for|to)\s+(.+)$`), []string{ArgSize, ArgObjective}},
	{IntentDisbandSwarm, regexp.MustCompile(`(?i)^(?:disband|dissolve)\s+swarm\s+(\S+)$`), []string{ArgSwarm}},
	{IntentFleetStatus, regexp.MustCompile(`(?i)^(?:show\s+|get\s+)?(?:the\s+)?fleet(?:\s+status)?$`), nil},
	{IntentScaleSector, regexp.MustCompile(`(?i)^scale\s+(?:sector\s+)?(\S+)\s+to\s+(\d+)(?:\s+agents)?$`), []string{ArgSector, ArgTarget}},
	{IntentPauseAgent, regexp.MustCompile(`(?i)^(?:pause|suspend)\s+agent\s+(\S+)$`), []string{ArgAgent}},
	{IntentResumeAgent, regexp.MustCompile(`(?i)^(?:resume|unpause|activate)\s+agent\s+(\S+)$`), []string{ArgAgent}},
	{IntentQueueStatus, regexp.MustCompile(`(?i)^(?:show\s+)?(?:the\s+)?(?:queue(?:\s+status)?|status)$`), nil},
}

var (
	spaces      = regexp.MustCompile(`\s+`)
	sectorSplit = regexp.MustCompile(`(?i)\s*(?:,|\band\b|&)\s*`)
)

// Parse matches text against the known intents.
func Parse(text string) (Command, error) {
	norm := normalize(text)
	if norm == "" {
		return Command{}, ErrEmptyCommand
	}

	for _, r := range rules {
		m := r.re.FindStringSubmatch(norm)
		if m == nil {
			continue
		}
		cmd := Command{Intent: r.intent, Args: map[string]string{}, Raw: text}
		for i, key := range r.keys {
			if v := strings.TrimSpace(m[i+1]); v != "" {
				cmd.Args[key] = v
			}
		}
		if r.intent == IntentFormSwarm {
			splitObjective(cmd.Args)
		}
		if s, ok := cmd.Args[ArgSectors]; ok {
			cmd.Args[ArgSectors] = strings.Join(splitSectors(s), ",")
		}
		if s, ok := cmd.Args[ArgSector]; ok {
			cmd.Args[ArgSector] = strings.ToLower(s)
		}
		return cmd, nil
	}
	return Command{}, ErrUnknownCommand
}

func normalize(text string) string {
	s := strings.TrimSpace(spaces.ReplaceAllString(text, " "))
	s = strings.TrimRight(s, ".!?")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "please "), "Please ")
	return strings.TrimSpace(s)
}

// splitObjective moves the text after the last " in " of the objective into
// the sector list, so the objective itself may mention "in".
func splitObjective(args map[string]string) {
	obj := args[ArgObjective]
	i := strings.LastIndex(strings.ToLower(obj), " in ")
	if i <= 0 {
		return
	}
	sectors := strings.TrimSpace(obj[i+len(" in "):])
	if sectors == "" {
		return
	}
	args[ArgObjective] = strings.TrimSpace(obj[:i])
	args[ArgSectors] = sectors
}

func splitSectors(s string) []string {
	parts := sectorSplit.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), "sector")))
		p = strings.TrimSpace(strings.TrimPrefix(p, "the "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
