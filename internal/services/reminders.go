package services

import (
	"fmt"

	"github.com/imcphost/imcp/internal/registry"
)

// RemindersService is a minimal in-memory stand-in for the host reminders
// subsystem.
type RemindersService struct {
	activated bool
	items     []string
}

func NewRemindersService() *RemindersService {
	return &RemindersService{activated: true}
}

func (r *RemindersService) ID() string { return "RemindersService" }

func (r *RemindersService) IsActivated() bool { return r.activated }

func (r *RemindersService) Activate() error {
	r.activated = true
	return nil
}

func (r *RemindersService) Tools() []registry.Tool {
	return []registry.Tool{
		{
			Name:         "reminders_list",
			Description:  "List pending reminders",
			ReadOnlyHint: true,
			InputSchema:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "reminders_create",
			Description: "Create a new reminder",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []string{"text"},
			},
		},
		{
			Name:        "reminders_complete",
			Description: "Mark a reminder complete",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index": map[string]any{"type": "integer"},
				},
				"required": []string{"index"},
			},
		},
	}
}

func (r *RemindersService) Call(toolName string, args map[string]any) (registry.CallResult, error) {
	switch toolName {
	case "reminders_list":
		return registry.CallResult{Value: r.items}, nil
	case "reminders_create":
		text, _ := args["text"].(string)
		if text == "" {
			return registry.CallResult{}, fmt.Errorf("text is required")
		}
		r.items = append(r.items, text)
		return registry.CallResult{Value: map[string]any{"created": true}}, nil
	case "reminders_complete":
		idx, ok := args["index"].(float64)
		if !ok || int(idx) < 0 || int(idx) >= len(r.items) {
			return registry.CallResult{}, fmt.Errorf("index out of range")
		}
		r.items = append(r.items[:int(idx)], r.items[int(idx)+1:]...)
		return registry.CallResult{Value: map[string]any{"completed": true}}, nil
	default:
		return registry.CallResult{NotHandled: true}, nil
	}
}
