package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/QualityUnit/pyworkflow/replay"
	"github.com/QualityUnit/pyworkflow/runtime"
)

// registerBuiltinWorkflows registers every workflow and step this
// binary can execute. Real deployments add their own RegisterWorkflow/
// RegisterStep calls here (or in a package this file imports) — there
// is no dynamic module loading the way an interpreted runtime would
// have, so registration happens at compile time.
func registerBuiltinWorkflows(d *runtime.Dispatcher) {
	d.RegisterWorkflow("echo", echoWorkflow)
	d.RegisterStep("echo.uppercase", echoUppercaseStep)
}

type echoInput struct {
	Message string `json:"message"`
}

func echoWorkflow(ctx *replay.Context, input json.RawMessage) (json.RawMessage, error) {
	var in echoInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("echo: decode input: %w", err)
	}

	result, err := ctx.Step("echo.uppercase", in)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func echoUppercaseStep(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in echoInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("echo.uppercase: decode input: %w", err)
	}
	upper := make([]byte, len(in.Message))
	for i := range in.Message {
		c := in.Message[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	return json.Marshal(map[string]string{"message": string(upper)})
}
