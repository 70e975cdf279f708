package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/pavelanni/examshield/internal/llm/prompts"
	"github.com/pavelanni/examshield/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoQuestions is returned when the model response holds no usable question.
var ErrNoQuestions = errors.New("no questions extracted")

// Suggestion is a model-proposed score for a manually reviewed answer.
type Suggestion struct {
	QuestionID string `json:"question_id"`
	Score      int    `json:"suggested_points"`
	MaxPoints  int    `json:"max_points"`
	Feedback   string `json:"feedback"`
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps an OpenAI-compatible API client. Local runtimes such as
// Ollama work through their OpenAI-compatible endpoint.
type Client struct {
	api   chatCompleter
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}

// ExtractQuestions asks the model for exam questions found in text. At most
// maxQuestions are returned, with ids q1, q2, ... in response order.
func (c *Client) ExtractQuestions(ctx context.Context, text string, maxQuestions int) ([]Extracted, error) {
	prompt, err := prompts.BuildExtractPrompt(text, maxQuestions)
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, prompt, 0.2)
	if err != nil {
		return nil, err
	}
	questions, err := ParseExtraction(raw)
	if err != nil {
		return nil, err
	}
	if maxQuestions > 0 && len(questions) > maxQuestions {
		questions = questions[:maxQuestions]
	}
	slog.Info("extracted questions", "count", len(questions))
	return questions, nil
}

// SuggestScore asks the model to score a free-text answer. The result is
// advisory; the score is clamped to the question's points.
func (c *Client) SuggestScore(ctx context.Context, q model.Question, answer string) (Suggestion, error) {
	prompt, err := prompts.BuildReviewPrompt(q, answer)
	if err != nil {
		return Suggestion{}, err
	}
	raw, err := c.complete(ctx, prompt, 0.1)
	if err != nil {
		return Suggestion{}, err
	}

	var out struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return Suggestion{}, fmt.Errorf("parse review response: %w (raw: %s)", err, raw)
	}
	return Suggestion{
		QuestionID: q.ID,
		Score:      roundScore(out.Score, q.Points),
		MaxPoints:  q.Points,
		Feedback:   out.Feedback,
	}, nil
}

// roundScore rounds a model score half up and clamps it to 0..points before
// converting, so huge or non-finite values cannot overflow the int.
func roundScore(score float64, points int) int {
	if math.IsNaN(score) {
		return 0
	}
	return int(math.Floor(max(0, min(float64(points), score)) + 0.5))
}
