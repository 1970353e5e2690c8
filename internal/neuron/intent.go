package neuron

import (
	"context"
	"fmt"
	"strings"

	"neuroforge/internal/goal"
	"neuroforge/internal/llm"
	"neuroforge/internal/logging"
)

// IntentNeuron classifies goal text into one of the four intents. A
// focused prompt asks the LLM for exactly one label; anything else is
// normalized by substring heuristic, defaulting to generative. A pattern
// cache may short-circuit the LLM; entries are only written after the goal
// succeeded downstream (cache only what worked).
type IntentNeuron struct {
	client LLMClient
	cache  *PatternCache // optional
}

// NewIntentNeuron creates the classifier. cache may be nil.
func NewIntentNeuron(client LLMClient, cache *PatternCache) *IntentNeuron {
	return &IntentNeuron{client: client, cache: cache}
}

func (n *IntentNeuron) Name() string { return "intent" }

const intentPrompt = `Classify the user request into exactly one of these labels:

generative   - answer from general knowledge, write or explain something
tool         - perform an action or computation that needs a tool
memory_read  - recall something previously stored
memory_write - remember or store something for later

Request: %q

Reply with only the label, nothing else.`

// Process classifies the goal text and records the intent on the context.
func (n *IntentNeuron) Process(ctx context.Context, g *goal.Context, input string) (any, error) {
	if input == "" {
		input = g.GoalText
	}

	if n.cache != nil {
		if cached, ok := n.cache.Lookup(input); ok {
			logging.NeuronDebug("intent cache hit for goal %s: %s", g.GoalID, cached)
			g.Intent = cached
			return cached, nil
		}
	}

	reply, err := n.client.Generate(ctx, fmt.Sprintf(intentPrompt, input), &llm.Options{
		System:         "You are an intent classifier. Reply with a single label.",
		Temperature:    0,
		TemperatureSet: true,
		MaxTokens:      16,
	})
	if err != nil {
		return nil, err
	}

	intent := NormalizeIntent(reply)
	g.Intent = intent
	return intent, nil
}

// ConfirmDecision writes the classification to the pattern cache. Called by
// the orchestrator only after the goal completed successfully.
func (n *IntentNeuron) ConfirmDecision(goalText string, intent goal.Intent) {
	if n.cache != nil {
		n.cache.Store(goalText, intent)
	}
}

// NormalizeIntent maps a raw LLM reply onto an intent label. Unrecognized
// replies default to generative.
func NormalizeIntent(raw string) goal.Intent {
	label := strings.ToLower(strings.TrimSpace(raw))
	switch label {
	case string(goal.IntentGenerative):
		return goal.IntentGenerative
	case string(goal.IntentTool):
		return goal.IntentTool
	case string(goal.IntentMemoryRead):
		return goal.IntentMemoryRead
	case string(goal.IntentMemoryWrite):
		return goal.IntentMemoryWrite
	}

	// Substring heuristic for chatty replies.
	switch {
	case strings.Contains(label, "memory_write") || strings.Contains(label, "memory write"):
		return goal.IntentMemoryWrite
	case strings.Contains(label, "memory_read") || strings.Contains(label, "memory read"):
		return goal.IntentMemoryRead
	case strings.Contains(label, "tool"):
		return goal.IntentTool
	default:
		return goal.IntentGenerative
	}
}
