// Package generator produces business plans and dashboard widget specs with
// the AI completion gateway.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atlassonic/atlas/internal/llm"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/metrics"
)

var (
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrInvalidSpec = errors.New("completion is not a valid widget spec")
)

// Metric kinds.
const (
	kindPlan   = "business_plan"
	kindWidget = "widget"
)

// WidgetTypes lists the widget kinds a spec may declare.
var WidgetTypes = []string{"metric", "chart", "table", "list", "text", "progress"}

const planSystemPrompt = `You are a senior business strategist. Write a concise, practical business plan in Markdown.
Use exactly these second-level headings in this order: Executive Summary, Market Analysis,
Products and Services, Marketing Strategy, Operations, Financial Projections, Risks and Mitigation.
Be specific to the business described. Do not add a title line.`

const widgetSystemPrompt = `You design dashboard widgets. Reply with a single JSON object and nothing else:
{"type": one of "metric"|"chart"|"table"|"list"|"text"|"progress",
 "title": short title,
 "dataSource": the table or metric the widget reads (e.g. "agents", "tasks", "orchestration_queue"),
 "config": object of display options (chartType, refreshInterval, columns, thresholds...)}`

// PlanRequest describes the business a plan is written for.
type PlanRequest struct {
	BusinessName string   `json:"business_name" validate:"required,max=200"`
	Industry     string   `json:"industry" validate:"required,max=100"`
	Description  string   `json:"description" validate:"max=4000"`
	TargetMarket string   `json:"target_market" validate:"max=500"`
	Goals        []string `json:"goals" validate:"max=20,dive,max=300"`
	Budget       string   `json:"budget" validate:"max=100"`
}

// Section is one headed part of a plan.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// BusinessPlan is a generated plan.
type BusinessPlan struct {
	BusinessName string    `json:"business_name"`
	Industry     string    `json:"industry"`
	Content      string    `json:"content"`
	Sections     []Section `json:"sections"`
	Model        string    `json:"model,omitempty"`
	Usage        llm.Usage `json:"usage"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// WidgetSpec is a generated dashboard widget definition. Field names follow
// the dashboard layout JSON.
type WidgetSpec struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	DataSource string         `json:"dataSource"`
	Config     map[string]any `json:"config"`
}

// Generator wraps an llm.Client with the two generation tasks.
type Generator struct {
	client  llm.Client
	metrics *metrics.Metrics
	log     *logging.Logger
	now     func() time.Time
}

// New creates a generator. m may be nil.
func New(client llm.Client, m *metrics.Metrics, log *logging.Logger) *Generator {
	return &Generator{
		client:  client,
		metrics: m,
		log:     log.Sub("generator"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// BusinessPlan writes a plan for the described business.
func (g *Generator) BusinessPlan(ctx context.Context, req PlanRequest) (*BusinessPlan, error) {
	prompt, err := planPrompt(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		System:   planSystemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	g.metrics.ObserveAI(kindPlan, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("generating business plan: %w", err)
	}

	content := strings.TrimSpace(resp.Content)
	g.log.Info().Str("business", req.BusinessName).Int("output_tokens", resp.Usage.OutputTokens).Msg("business plan generated")
	return &BusinessPlan{
		BusinessName: strings.TrimSpace(req.BusinessName),
		Industry:     strings.TrimSpace(req.Industry),
		Content:      content,
		Sections:     SplitSections(content),
		Model:        resp.Model,
		Usage:        resp.Usage,
		GeneratedAt:  g.now(),
	}, nil
}

// StreamBusinessPlan streams the plan text as it is generated.
func (g *Generator) StreamBusinessPlan(ctx context.Context, req PlanRequest) (<-chan llm.StreamEvent, error) {
	prompt, err := planPrompt(req)
	if err != nil {
		return nil, err
	}
	ch, err := g.client.Stream(ctx, llm.CompletionRequest{
		System:   planSystemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		g.metrics.ObserveAI(kindPlan, err, 0)
		return nil, fmt.Errorf("streaming business plan: %w", err)
	}
	return ch, nil
}

func planPrompt(req PlanRequest) (string, error) {
	name := strings.TrimSpace(req.BusinessName)
	if name == "" && strings.TrimSpace(req.Description) == "" {
		return "", ErrEmptyPrompt
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Business name: %s\n", orDash(name))
	fmt.Fprintf(&b, "Industry: %s\n", orDash(req.Industry))
	if s := strings.TrimSpace(req.Description); s != "" {
		fmt.Fprintf(&b, "Description: %s\n", s)
	}
	if s := strings.TrimSpace(req.TargetMarket); s != "" {
		fmt.Fprintf(&b, "Target market: %s\n", s)
	}
	if s := strings.TrimSpace(req.Budget); s != "" {
		fmt.Fprintf(&b, "Budget: %s\n", s)
	}
	if len(req.Goals) > 0 {
		b.WriteString("Goals:\n")
		for _, goal := range req.Goals {
			if goal = strings.TrimSpace(goal); goal != "" {
				fmt.Fprintf(&b, "- %s\n", goal)
			}
		}
	}
	return b.String(), nil
}

func orDash(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "-"
	}
	return s
}

// SplitSections cuts Markdown on "## " headings. Text before the first
// heading becomes an untitled section.
func SplitSections(md string) []Section {
	sections := []Section{}
	var cur *Section
	var body strings.Builder

	closeCur := func() {
		if cur == nil {
			if s := strings.TrimSpace(body.String()); s != "" {
				sections = append(sections, Section{Body: s})
			}
		} else {
			cur.Body = strings.TrimSpace(body.String())
			sections = append(sections, *cur)
		}
		body.Reset()
	}

	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "## ") {
			closeCur()
			cur = &Section{Title: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	closeCur()
	return sections
}

// WidgetSpec turns a natural-language request into a widget definition.
func (g *Generator) WidgetSpec(ctx context.Context, prompt string) (*WidgetSpec, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	start := time.Now()
	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		System:   widgetSystemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		JSON:     true,
	})
	if err != nil {
		g.metrics.ObserveAI(kindWidget, err, time.Since(start))
		return nil, fmt.Errorf("generating widget: %w", err)
	}

	spec, err := ParseWidgetSpec(resp.Content)
	g.metrics.ObserveAI(kindWidget, err, time.Since(start))
	if err != nil {
		g.log.Warn().Err(err).Str("completion", truncate(resp.Content, 200)).Msg("widget completion rejected")
		return nil, err
	}
	return spec, nil
}

// ParseWidgetSpec extracts the first JSON object in a completion and checks
// it is a usable widget spec.
func ParseWidgetSpec(text string) (*WidgetSpec, error) {
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object found: %w", ErrInvalidSpec)
	}
	var spec WidgetSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidSpec)
	}

	spec.Type = strings.ToLower(strings.TrimSpace(spec.Type))
	if !validType(spec.Type) {
		return nil, fmt.Errorf("type %q: %w", spec.Type, ErrInvalidSpec)
	}
	spec.Title = strings.TrimSpace(spec.Title)
	if spec.Title == "" {
		return nil, fmt.Errorf("missing title: %w", ErrInvalidSpec)
	}
	spec.DataSource = strings.TrimSpace(spec.DataSource)
	if spec.DataSource == "" {
		return nil, fmt.Errorf("missing dataSource: %w", ErrInvalidSpec)
	}
	if spec.Config == nil {
		spec.Config = map[string]any{}
	}
	return &spec, nil
}

func validType(t string) bool {
	for _, w := range WidgetTypes {
		if t == w {
			return true
		}
	}
	return false
}

// ExtractJSONObject returns the first balanced {...} in s that is valid
// JSON. Completions often wrap the object in prose or a Markdown fence.
func ExtractJSONObject(s string) (string, bool) {
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		end, ok := closingBrace(s, start)
		if !ok {
			continue
		}
		if cand := s[start : end+1]; json.Valid([]byte(cand)) {
			return cand, true
		}
	}
	return "", false
}

// closingBrace finds the brace matching s[start], skipping braces inside
// JSON strings.
func closingBrace(s string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
