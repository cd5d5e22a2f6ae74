package tools

import (
	"context"
	"fmt"

	"github.com/voxwire/voxwire/pkg/bridge/collab"
	"github.com/voxwire/voxwire/pkg/bridge/speech"
)

// Delegates returns the executors that forward to external
// collaborators. Unconfigured clients still register; their errors
// flow back through the normal {"error": ...} result path.
func Delegates(cal *collab.CalendarClient, mail *collab.EmailClient) []Executor {
	return []Executor{
		findSlots{cal: cal},
		createEvent{cal: cal},
		searchMessages{mail: mail},
		sendEmail{mail: mail},
	}
}

type findSlots struct {
	cal *collab.CalendarClient
}

func (findSlots) Name() string { return "find_slots" }

func (findSlots) Schema() speech.Tool {
	return speech.Tool{
		Type:        "function",
		Name:        "find_slots",
		Description: "Find open appointment slots on a given day.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date":             map[string]any{"type": "string", "description": "Day in YYYY-MM-DD."},
				"duration_minutes": map[string]any{"type": "integer"},
			},
			"required": []string{"date"},
		},
	}
}

func (t findSlots) Execute(ctx context.Context, _ Scope, input map[string]any) (any, error) {
	date := stringArg(input, "date")
	if date == "" {
		return nil, fmt.Errorf("date is required")
	}
	duration := intArg(input, "duration_minutes")
	if duration <= 0 {
		duration = 30
	}
	slots, err := t.cal.FindSlots(ctx, date, duration)
	if err != nil {
		return nil, err
	}
	return map[string]any{"slots": slots}, nil
}

type createEvent struct {
	cal *collab.CalendarClient
}

func (createEvent) Name() string { return "create_event" }

func (createEvent) Schema() speech.Tool {
	return speech.Tool{
		Type:        "function",
		Name:        "create_event",
		Description: "Book an appointment slot.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":   map[string]any{"type": "string"},
				"start":   map[string]any{"type": "string"},
				"end":     map[string]any{"type": "string"},
				"invitee": map[string]any{"type": "string"},
			},
			"required": []string{"title", "start", "end"},
		},
	}
}

func (t createEvent) Execute(ctx context.Context, _ Scope, input map[string]any) (any, error) {
	ev := collab.Event{
		Title:   stringArg(input, "title"),
		Start:   stringArg(input, "start"),
		End:     stringArg(input, "end"),
		Invitee: stringArg(input, "invitee"),
	}
	if ev.Title == "" || ev.Start == "" || ev.End == "" {
		return nil, fmt.Errorf("title, start, and end are required")
	}
	created, err := t.cal.CreateEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	return map[string]any{"event": created}, nil
}

type searchMessages struct {
	mail *collab.EmailClient
}

func (searchMessages) Name() string { return "search_messages" }

func (searchMessages) Schema() speech.Tool {
	return speech.Tool{
		Type:        "function",
		Name:        "search_messages",
		Description: "Search the caller's mailbox.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
			},
			"required": []string{"query"},
		},
	}
}

func (t searchMessages) Execute(ctx context.Context, _ Scope, input map[string]any) (any, error) {
	query := stringArg(input, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	msgs, err := t.mail.Search(ctx, query, intArg(input, "limit"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": msgs}, nil
}

type sendEmail struct {
	mail *collab.EmailClient
}

func (sendEmail) Name() string { return "send_email" }

func (sendEmail) Schema() speech.Tool {
	return speech.Tool{
		Type:        "function",
		Name:        "send_email",
		Description: "Send an email on the caller's behalf.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":      map[string]any{"type": "string"},
				"subject": map[string]any{"type": "string"},
				"body":    map[string]any{"type": "string"},
			},
			"required": []string{"to", "subject"},
		},
	}
}

func (t sendEmail) Execute(ctx context.Context, _ Scope, input map[string]any) (any, error) {
	msg := collab.Message{
		To:      stringArg(input, "to"),
		Subject: stringArg(input, "subject"),
		Body:    stringArg(input, "body"),
	}
	if msg.To == "" || msg.Subject == "" {
		return nil, fmt.Errorf("to and subject are required")
	}
	sent, err := t.mail.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": sent}, nil
}
