package openai

import (
	"context"

	"github.com/agenticklabs/agentick/internal/adapter"
)

// Execute implements adapter.Adapter with a synchronous Chat Completions
// call.
func (o *OpenAI) Execute(ctx context.Context, in adapter.Input) (adapter.Output, error) {
	params := convertInput(in, &o.config)

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return adapter.Output{}, mapError(err)
	}

	return convertOutput(completion, o.config.Model), nil
}
