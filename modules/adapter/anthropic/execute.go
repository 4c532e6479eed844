package anthropic

import (
	"context"

	"github.com/agenticklabs/agentick/internal/adapter"
)

// Execute implements adapter.Adapter with a synchronous Messages call.
func (a *Anthropic) Execute(ctx context.Context, in adapter.Input) (adapter.Output, error) {
	params := convertInput(in, &a.config, a.logger)

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return adapter.Output{}, mapError(err)
	}

	return convertOutput(msg), nil
}
