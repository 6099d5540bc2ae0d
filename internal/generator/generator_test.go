package generator

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassonic/atlas/internal/llm"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/metrics"
)

func newGen(c llm.Client) (*Generator, *metrics.Metrics) {
	m := metrics.New()
	return New(c, m, logging.New(io.Discard, "silent")), m
}

const planText = `Intro line.

## Executive Summary
Bakery with delivery.

## Market Analysis
Busy street.
`

func TestBusinessPlan(t *testing.T) {
	client := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "\n" + planText, Model: "test-model", Usage: llm.Usage{InputTokens: 10, OutputTokens: 50}}, nil
	}}
	g, m := newGen(client)

	plan, err := g.BusinessPlan(context.Background(), PlanRequest{
		BusinessName: " Crumb ",
		Industry:     "food",
		Description:  "neighbourhood bakery",
		Goals:        []string{"break even in year one", " "},
	})
	require.NoError(t, err)

	assert.Equal(t, "Crumb", plan.BusinessName)
	assert.Equal(t, "test-model", plan.Model)
	assert.Equal(t, 50, plan.Usage.OutputTokens)
	assert.False(t, plan.GeneratedAt.IsZero())
	require.Len(t, plan.Sections, 3)
	assert.Equal(t, Section{Body: "Intro line."}, plan.Sections[0])
	assert.Equal(t, Section{Title: "Executive Summary", Body: "Bakery with delivery."}, plan.Sections[1])
	assert.Equal(t, "Market Analysis", plan.Sections[2].Title)

	got, ok := client.LastRequest()
	require.True(t, ok)
	assert.Equal(t, planSystemPrompt, got.System)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "Business name: Crumb")
	assert.Contains(t, got.Messages[0].Content, "- break even in year one\n")
	assert.NotContains(t, got.Messages[0].Content, "Budget:")
	assert.False(t, got.JSON)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AIRequests.WithLabelValues(kindPlan, "ok")))
}

func TestBusinessPlanErrors(t *testing.T) {
	g, m := newGen(&llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "test", Code: 402, Message: "AI credits exhausted"}
	}})

	_, err := g.BusinessPlan(context.Background(), PlanRequest{Industry: "food"})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = g.BusinessPlan(context.Background(), PlanRequest{BusinessName: "Crumb"})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 402, pe.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AIRequests.WithLabelValues(kindPlan, "error")))
}

func TestStreamBusinessPlan(t *testing.T) {
	client := &llm.MockClient{Reply: "## Summary\nBread."}
	g, _ := newGen(client)
	ch, err := g.StreamBusinessPlan(context.Background(), PlanRequest{Description: "a bakery", Budget: "20k"})
	require.NoError(t, err)

	var events []llm.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "## Summary\nBread.", events[0].Content)
	assert.Equal(t, llm.EventDone, events[1].Type)

	got, ok := client.LastRequest()
	require.True(t, ok)
	assert.Equal(t, planSystemPrompt, got.System)
	assert.Contains(t, got.Messages[0].Content, "Business name: -\n")
	assert.Contains(t, got.Messages[0].Content, "Description: a bakery\n")
	assert.Contains(t, got.Messages[0].Content, "Budget: 20k\n")

	_, err = g.StreamBusinessPlan(context.Background(), PlanRequest{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Len(t, client.Requests(), 1)
}

func TestSplitSections(t *testing.T) {
	assert.Empty(t, SplitSections(""))
	assert.Equal(t, []Section{{Title: "A", Body: ""}, {Title: "B", Body: "x\ny"}}, SplitSections("## A\n## B\nx\ny\n"))
}

func TestWidgetSpec(t *testing.T) {
	client := &llm.MockClient{Reply: "Here you go:\n```json\n{\"type\": \"Chart\", \"title\": \"Tasks by status\", \"dataSource\": \"tasks\", \"config\": {\"chartType\": \"bar\"}}\n```"}
	g, m := newGen(client)

	spec, err := g.WidgetSpec(context.Background(), "  bar chart of tasks by status ")
	require.NoError(t, err)
	assert.Equal(t, &WidgetSpec{Type: "chart", Title: "Tasks by status", DataSource: "tasks", Config: map[string]any{"chartType": "bar"}}, spec)
	got, ok := client.LastRequest()
	require.True(t, ok)
	assert.True(t, got.JSON)
	assert.Equal(t, widgetSystemPrompt, got.System)
	assert.Equal(t, "bar chart of tasks by status", got.Messages[0].Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AIRequests.WithLabelValues(kindWidget, "ok")))

	_, err = g.WidgetSpec(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Len(t, client.Requests(), 1, "empty prompts never reach the gateway")
}

func TestWidgetSpecRejected(t *testing.T) {
	g, m := newGen(&llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: `{"type": "hologram", "title": "x"}`}, nil
	}})
	_, err := g.WidgetSpec(context.Background(), "something")
	assert.ErrorIs(t, err, ErrInvalidSpec)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AIRequests.WithLabelValues(kindWidget, "error")))

	g, _ = newGen(&llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("boom")
	}})
	_, err = g.WidgetSpec(context.Background(), "something")
	assert.EqualError(t, err, "generating widget: boom")
}

func TestParseWidgetSpec(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"plain", `{"type":"metric","title":"Agents","dataSource":"agents"}`, true},
		{"missing dataSource", `{"type":"chart","title":"x","config":{}}`, false},
		{"blank dataSource", `{"type":"chart","title":"x","dataSource":" "}`, false},
		{"no object", "I cannot help with that", false},
		{"bad type", `{"type":"pie","title":"x"}`, false},
		{"missing title", `{"type":"list","title":"  "}`, false},
		{"config is not an object", `{"type":"list","title":"x","config":3}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseWidgetSpec(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidSpec)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, spec.Config)
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{`prefix {"a":{"b":"}"}} suffix {"c":2}`, `{"a":{"b":"}"}}`, true},
		{`{not json} then {"x":"\"{"}`, `{"x":"\"{"}`, true},
		{`{"open": 1`, "", false},
		{`Use a { to open. Here it is: {"type":"metric","title":"x"}`, `{"type":"metric","title":"x"}`, true},
		{"none", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractJSONObject(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
