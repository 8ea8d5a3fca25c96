package services

import (
	"encoding/json"
	"fmt"
)

// LLMParameters holds optional sampling parameters. Nil fields are left to the provider's defaults, and
// providers ignore the fields they do not support.
type LLMParameters struct {
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"topP"`
	Stop             []string `yaml:"stop"`
	PresencePenalty  *float32 `yaml:"presencePenalty"`
	FrequencyPenalty *float32 `yaml:"frequencyPenalty"`
	Seed             *int     `yaml:"seed"`
}

const errLoggerKey = "err"

// toolArguments decodes the JSON arguments of a tool call into a map, for SDKs that expect one. Empty
// input decodes to an empty map.
func toolArguments(input json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(input) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments %s: %w", string(input), err)
	}
	return args, nil
}
