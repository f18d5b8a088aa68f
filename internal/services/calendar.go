// Package services contains a handful of thin, mechanical Service adapters
// exercising the registry.Service contract. Individual service semantics are
// out of scope of the core (spec §1); these exist to give the Dispatcher and
// Registry real catalog entries to route to.
package services

import (
	"fmt"

	"github.com/imcphost/imcp/internal/registry"
)

// CalendarService is a minimal in-memory stand-in for the host calendar
// subsystem: list upcoming events, create a new one.
type CalendarService struct {
	activated bool
	events    []calendarEvent
}

type calendarEvent struct {
	Title string `json:"title"`
	Start string `json:"start"`
}

// NewCalendarService returns a CalendarService that reports itself as
// already activated (host permission granted) — a real adapter would defer
// to an OS permission API here.
func NewCalendarService() *CalendarService {
	return &CalendarService{activated: true}
}

func (c *CalendarService) ID() string { return "CalendarService" }

func (c *CalendarService) IsActivated() bool { return c.activated }

func (c *CalendarService) Activate() error {
	c.activated = true
	return nil
}

func (c *CalendarService) Tools() []registry.Tool {
	return []registry.Tool{
		{
			Name:         "calendar_read",
			Description:  "List upcoming calendar events",
			ReadOnlyHint: true,
			InputSchema:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "calendar_create",
			Description: "Create a new calendar event",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{"type": "string"},
					"start": map[string]any{"type": "string"},
				},
				"required": []string{"title", "start"},
			},
		},
	}
}

func (c *CalendarService) Call(toolName string, args map[string]any) (registry.CallResult, error) {
	switch toolName {
	case "calendar_read":
		return registry.CallResult{Value: c.events}, nil
	case "calendar_create":
		title, _ := args["title"].(string)
		start, _ := args["start"].(string)
		if title == "" {
			return registry.CallResult{}, fmt.Errorf("title is required")
		}
		c.events = append(c.events, calendarEvent{Title: title, Start: start})
		return registry.CallResult{Value: map[string]any{"created": true}}, nil
	default:
		return registry.CallResult{NotHandled: true}, nil
	}
}
