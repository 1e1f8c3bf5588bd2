package commentary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/skalibog/tradesignal/internal/config"
)

// ErrNotConfigured ключ API для комментариев не задан
var ErrNotConfigured = errors.New("GROQ_API_KEY не задан")

// Стили комментария
const (
	StyleConcise  = "concise"
	StyleDetailed = "detailed"
)

const systemPrompt = "You are a cautious, precise trading assistant."

const userPrompt = `You are a trading analyst AI.
Summarize the provided indicator snapshot into a concise, risk-aware recommendation.
ALWAYS include: short context, key indicators, risk level, and numbered action plan.
Never promise profits. Keep it compliant and cautious.

Snapshot:
%s

Tone: %s
Output format (markdown, 5 bullets max + one-line verdict).`

// Generator формирует текстовый комментарий по снимку индикаторов
type Generator interface {
	Generate(ctx context.Context, snapshot map[string]interface{}, style string) (string, error)
}

// GroqClient клиент OpenAI-совместимого chat completions API Groq
type GroqClient struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewGroqClient создает клиента. Без ключа возвращает ErrNotConfigured
func NewGroqClient(cfg config.CommentaryConfig) (*GroqClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	return &GroqClient{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Tone возвращает тон для стиля
func Tone(style string) string {
	if style == StyleDetailed {
		return "detailed but crisp"
	}
	return "concise, factual"
}

// BuildPrompt собирает пользовательский промпт из снимка
func BuildPrompt(snapshot map[string]interface{}, style string) (string, error) {
	data, err := sonic.ConfigStd.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации снимка: %w", err)
	}
	return fmt.Sprintf(userPrompt, data, Tone(style)), nil
}

// Generate запрашивает комментарий у модели
func (c *GroqClient) Generate(ctx context.Context, snapshot map[string]interface{}, style string) (string, error) {
	prompt, err := BuildPrompt(snapshot, style)
	if err != nil {
		return "", err
	}

	payload, err := sonic.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ошибка формирования запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ошибка запроса комментария: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	var out chatResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("ошибка разбора ответа (статус %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil {
			return "", fmt.Errorf("groq вернул статус %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("groq вернул статус %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("groq вернул пустой ответ")
	}

	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
