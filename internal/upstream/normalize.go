package upstream

import (
	"encoding/json"
	"fmt"
)

// envelope covers every response shape the provider has been observed to
// return. The envelope is not contractually stable across provider versions,
// so extraction is ordered from most current to most legacy.
type envelope struct {
	// Flattened convenience field on current responses.
	OutputText string `json:"output_text"`
	// Structured output list on current responses.
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	// Legacy field names, last resort.
	Reply    string `json:"reply"`
	Message  string `json:"message"`
	Response string `json:"response"`
}

// ExtractReply pulls the reply text out of a raw response body, trying each
// known shape in strict priority order until one yields a non-empty string.
func ExtractReply(body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}

	if env.OutputText != "" {
		return env.OutputText, nil
	}
	if len(env.Output) > 0 && len(env.Output[0].Content) > 0 {
		if text := env.Output[0].Content[0].Text; text != "" {
			return text, nil
		}
	}
	// Ordering is deliberate: the old web client consulted response first,
	// but here the more specific reply and message fields take precedence.
	for _, legacy := range []string{env.Reply, env.Message, env.Response} {
		if legacy != "" {
			return legacy, nil
		}
	}
	return "", ErrUnrecognizedShape
}
