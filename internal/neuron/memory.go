package neuron

import (
	"context"
	"fmt"
	"strings"

	"neuroforge/internal/goal"
	"neuroforge/internal/kv"
	"neuroforge/internal/logging"
)

const (
	memoryNamespace = "memory"
	maxMemoryHits   = 5
)

// MemoryNeuron reads and writes the user's key-value memory. A small LLM
// extraction prompt pulls {key, value?} from the goal text; reads try the
// exact key first, then a contains match over all keys.
type MemoryNeuron struct {
	client LLMClient
	store  kv.Store
}

// NewMemoryNeuron creates the neuron.
func NewMemoryNeuron(client LLMClient, store kv.Store) *MemoryNeuron {
	return &MemoryNeuron{client: client, store: store}
}

func (n *MemoryNeuron) Name() string { return "memory" }

func (n *MemoryNeuron) Process(ctx context.Context, g *goal.Context, input string) (any, error) {
	if input == "" {
		input = g.GoalText
	}

	key, value, err := n.extract(ctx, input, g.Intent)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("could not determine a memory key from the request")
	}

	if g.Intent == goal.IntentMemoryWrite {
		return n.write(key, value)
	}
	return n.read(key)
}

func (n *MemoryNeuron) extract(ctx context.Context, input string, intent goal.Intent) (key, value string, err error) {
	action := "recall"
	if intent == goal.IntentMemoryWrite {
		action = "store"
	}
	prompt := fmt.Sprintf(`The user wants to %s something in memory.

Request: %q

Reply with JSON: {"key": "<short snake_case key>", "value": "<value to store, or null for reads>"}`,
		action, input)

	reply, genErr := n.client.GenerateJSON(ctx, prompt, nil)
	if genErr != nil {
		return "", "", genErr
	}
	if reply["error"] == "parse_failed" {
		return "", "", fmt.Errorf("memory extraction returned malformed JSON")
	}

	key, _ = reply["key"].(string)
	if v, ok := reply["value"].(string); ok {
		value = v
	} else if v := reply["value"]; v != nil {
		value = fmt.Sprint(v)
	}
	return strings.TrimSpace(key), value, nil
}

func (n *MemoryNeuron) write(key, value string) (string, error) {
	if err := n.store.Set(memoryNamespace, key, value, 0); err != nil {
		return "", fmt.Errorf("failed to store memory: %w", err)
	}
	logging.NeuronDebug("memory write %s", key)
	return fmt.Sprintf("Remembered %s = %s", key, value), nil
}

func (n *MemoryNeuron) read(key string) (string, error) {
	if value, err := n.store.Get(memoryNamespace, key); err == nil {
		return fmt.Sprintf("%s = %v", key, value), nil
	} else if err != kv.ErrNotFound {
		return "", fmt.Errorf("failed to read memory: %w", err)
	}

	// Wildcard contains-match over all keys, up to 5 hits.
	keys, err := n.store.Keys(memoryNamespace)
	if err != nil {
		return "", fmt.Errorf("failed to list memory: %w", err)
	}
	needle := strings.ToLower(key)
	var lines []string
	for _, k := range keys {
		if !strings.Contains(strings.ToLower(k), needle) {
			continue
		}
		if value, err := n.store.Get(memoryNamespace, k); err == nil {
			lines = append(lines, fmt.Sprintf("%s = %v", k, value))
		}
		if len(lines) == maxMemoryHits {
			break
		}
	}
	if len(lines) == 0 {
		return fmt.Sprintf("Nothing stored under %q", key), nil
	}
	return strings.Join(lines, "\n"), nil
}
