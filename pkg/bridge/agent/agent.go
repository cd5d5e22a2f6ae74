// Package agent holds the persona registry: the per-call configuration
// selecting instructions, voice, and tool surface for the speech leg.
package agent

import (
	"fmt"
	"strings"

	"github.com/voxwire/voxwire/pkg/bridge/speech"
)

// Persona is one selectable agent configuration. The instruction text
// is plain configuration; nothing in the bridge interprets it.
type Persona struct {
	Name         string
	Voice        string
	Instructions string
	Tools        []string
}

const DefaultPersona = "assistant"

var registry = map[string]Persona{
	"assistant": {
		Name:  "assistant",
		Voice: "alloy",
		Instructions: "You are a concise phone assistant. Answer briefly, " +
			"confirm before taking actions, and use the provided tools for " +
			"customer, calendar, and email requests.",
		Tools: []string{
			"classify_intent", "customer_lookup", "remember", "recall",
			"find_slots", "create_event", "search_messages", "send_email",
		},
	},
	"scheduler": {
		Name:  "scheduler",
		Voice: "shimmer",
		Instructions: "You schedule appointments over the phone. Offer " +
			"available slots, confirm the caller's choice, then book it.",
		Tools: []string{"classify_intent", "remember", "recall", "find_slots", "create_event"},
	},
	"support": {
		Name:  "support",
		Voice: "echo",
		Instructions: "You are a support agent. Look up the caller's " +
			"account before answering account questions, and summarize the " +
			"issue back to them.",
		Tools: []string{"classify_intent", "customer_lookup", "remember", "recall"},
	},
}

// Lookup resolves a persona selector. Empty selects the default; an
// unknown name is an error so a typo in call parameters fails loudly
// instead of silently downgrading the agent.
func Lookup(name string) (Persona, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultPersona
	}
	p, ok := registry[key]
	if !ok {
		return Persona{}, fmt.Errorf("unknown agent persona %q", name)
	}
	return p, nil
}

// Names lists registered personas in no particular order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// SessionConfig assembles the speech-leg configuration for a persona,
// resolving its tool names against the schema source. A persona without
// a pinned voice falls back to the deployment default.
func (p Persona) SessionConfig(schemas func(names []string) []speech.Tool, defaultVoice string, temperature float64) speech.SessionConfig {
	voice := p.Voice
	if voice == "" {
		voice = defaultVoice
	}
	return speech.SessionConfig{
		Voice:        voice,
		Instructions: p.Instructions,
		Tools:        schemas(p.Tools),
		Temperature:  temperature,
	}
}
