package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxwire/voxwire/pkg/bridge/speech"
)

// Mocks returns the pure in-process executors: deterministic, no I/O.
func Mocks() []Executor {
	return []Executor{classifyIntent{}, customerLookup{}, remember{}, recall{}}
}

type classifyIntent struct{}

func (classifyIntent) Name() string { return "classify_intent" }

func (classifyIntent) Schema() speech.Tool {
	return speech.Tool{
		Type:        "function",
		Name:        "classify_intent",
		Description: "Classify the caller's request into an intent category.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "What the caller said."},
			},
			"required": []string{"text"},
		},
	}
}

var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{"scheduling", []string{"appointment", "schedule", "book", "reschedule", "slot"}},
	{"cancellation", []string{"cancel", "refund", "stop"}},
	{"email", []string{"email", "message", "inbox", "send"}},
	{"account", []string{"account", "billing", "invoice", "order", "balance"}},
}

func (classifyIntent) Execute(_ context.Context, _ Scope, input map[string]any) (any, error) {
	text := strings.ToLower(stringArg(input, "text"))
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	for _, c := range intentKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return map[string]any{"intent": c.intent, "matched": kw}, nil
			}
		}
	}
	return map[string]any{"intent": "general"}, nil
}

type customerLookup struct{}

func (customerLookup) Name() string { return "customer_lookup" }

func (customerLookup) Schema() speech.Tool {
	return speech.Tool{
		Type:        "function",
		Name:        "customer_lookup",
		Description: "Look up a customer record by phone number.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"phone_number": map[string]any{"type": "string"},
			},
			"required": []string{"phone_number"},
		},
	}
}

// Execute resolves a synthetic record from the phone digits: an even
// final digit is a known customer, odd is not found. Deterministic so
// conversations replay identically.
func (customerLookup) Execute(_ context.Context, _ Scope, input map[string]any) (any, error) {
	phone := stringArg(input, "phone_number")
	digits := digitsOf(phone)
	if len(digits) < 4 {
		return nil, fmt.Errorf("phone_number must contain at least 4 digits")
	}
	last := digits[len(digits)-1] - '0'
	if last%2 != 0 {
		return map[string]any{"found": false}, nil
	}
	tiers := []string{"standard", "silver", "gold"}
	last4 := digits[len(digits)-4:]
	return map[string]any{
		"found":      true,
		"customer":   "Customer " + last4,
		"account_id": "acct_" + digits,
		"tier":       tiers[int(last)%len(tiers)],
	}, nil
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type remember struct{}

func (remember) Name() string { return "remember" }

func (remember) Schema() speech.Tool {
	return speech.Tool{
		Type:        "function",
		Name:        "remember",
		Description: "Store a fact about this call for later in the conversation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key":   map[string]any{"type": "string"},
				"value": map[string]any{"type": "string"},
			},
			"required": []string{"key", "value"},
		},
	}
}

func (remember) Execute(_ context.Context, scope Scope, input map[string]any) (any, error) {
	key, value := stringArg(input, "key"), stringArg(input, "value")
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if scope.Memory == nil {
		return nil, fmt.Errorf("session memory is not available")
	}
	scope.Memory.Set(key, value)
	return map[string]any{"stored": true, "key": key}, nil
}

type recall struct{}

func (recall) Name() string { return "recall" }

func (recall) Schema() speech.Tool {
	return speech.Tool{
		Type:        "function",
		Name:        "recall",
		Description: "Recall a fact stored earlier in this call.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{"type": "string"},
			},
			"required": []string{"key"},
		},
	}
}

func (recall) Execute(_ context.Context, scope Scope, input map[string]any) (any, error) {
	key := stringArg(input, "key")
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if scope.Memory == nil {
		return nil, fmt.Errorf("session memory is not available")
	}
	if value, ok := scope.Memory.Get(key); ok {
		return map[string]any{"found": true, "key": key, "value": value}, nil
	}
	return map[string]any{"found": false, "key": key}, nil
}
