package neuron

import (
	"context"

	"neuroforge/internal/goal"
	"neuroforge/internal/llm"
)

// GenerativeNeuron produces a free-text response.
type GenerativeNeuron struct {
	client LLMClient
}

// NewGenerativeNeuron creates the neuron.
func NewGenerativeNeuron(client LLMClient) *GenerativeNeuron {
	return &GenerativeNeuron{client: client}
}

func (n *GenerativeNeuron) Name() string { return "generative" }

func (n *GenerativeNeuron) Process(ctx context.Context, g *goal.Context, input string) (any, error) {
	if input == "" {
		input = g.GoalText
	}
	return n.client.Generate(ctx, input, &llm.Options{
		System: "You are a helpful assistant. Be concise and accurate.",
	})
}
