package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errEmptyResponse = errors.New("empty response from LLM")

// ParseResponse extracts the text and token usage from a provider response.
func ParseResponse(format string, body []byte) (*Result, error) {
	switch format {
	case FormatAnthropic:
		return parseAnthropicFormat(body)
	case FormatOllama:
		return parseOllamaFormat(body)
	default:
		return parseOpenAIFormat(body)
	}
}

func parseAnthropicFormat(body []byte) (*Result, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse Anthropic response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errEmptyResponse
	}

	result := &Result{
		Content:      text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}

	// Normalise to OpenAI-style finish reasons.
	switch resp.StopReason {
	case "max_tokens":
		result.FinishReason = "length"
	case "end_turn", "stop_sequence":
		result.FinishReason = "stop"
	default:
		result.FinishReason = resp.StopReason
	}
	return result, nil
}

func parseOllamaFormat(body []byte) (*Result, error) {
	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		DoneReason      string `json:"done_reason"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse Ollama response: %w", err)
	}
	if resp.Message.Content == "" {
		return nil, errEmptyResponse
	}

	return &Result{
		Content:      resp.Message.Content,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
		FinishReason: resp.DoneReason,
	}, nil
}

func parseOpenAIFormat(body []byte) (*Result, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errEmptyResponse
	}

	return &Result{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}
