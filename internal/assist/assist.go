// Package assist answers inquiries typed into the form. Replies are
// orientative and are stored next to the inquiry in the session ledger.
package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"modelo130/internal/logger"
	"modelo130/internal/tax"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("empty reply from model")

// Responder produces a reply to an inquiry. summary is the last computed
// summary of the session and may be nil.
type Responder interface {
	Reply(ctx context.Context, question string, summary *tax.Summary) (string, error)
}

// ChatClient is the part of the OpenAI client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config tunes the OpenAI responder.
type Config struct {
	Model       string
	Temperature float32
	MaxRetries  int
	MaxTokens   int
}

// DefaultConfig returns the settings used by the server.
func DefaultConfig(model string) Config {
	return Config{
		Model:       model,
		Temperature: 0.2,
		MaxRetries:  2,
		MaxTokens:   400,
	}
}

// OpenAIResponder replies through the chat completions API.
type OpenAIResponder struct {
	client ChatClient
	config Config
	log    zerolog.Logger
}

// NewOpenAIResponder builds a responder for apiKey.
func NewOpenAIResponder(apiKey string, config Config) (*OpenAIResponder, error) {
	const op = "NewOpenAIResponder"

	if apiKey == "" {
		return nil, fmt.Errorf("%s: OPENAI_API_KEY is required", op)
	}
	return NewOpenAIResponderWithClient(openai.NewClient(apiKey), config), nil
}

// NewOpenAIResponderWithClient builds a responder around an existing client.
func NewOpenAIResponderWithClient(client ChatClient, config Config) *OpenAIResponder {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	return &OpenAIResponder{
		client: client,
		config: config,
		log:    logger.WithComponent("assist"),
	}
}

// Reply asks the model, retrying failed requests up to MaxRetries times.
func (r *OpenAIResponder) Reply(ctx context.Context, question string, summary *tax.Summary) (string, error) {
	const op = "Reply"

	req := openai.ChatCompletionRequest{
		Model:       r.config.Model,
		Temperature: r.config.Temperature,
		MaxTokens:   r.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(question, summary)},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxRetries; attempt++ {
		resp, err := r.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			r.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", r.config.MaxRetries).
				Msg("Chat completion failed, retrying")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = ErrEmptyReply
			continue
		}
		reply := strings.TrimSpace(resp.Choices[0].Message.Content)
		if reply == "" {
			lastErr = ErrEmptyReply
			continue
		}

		r.log.Debug().
			Int("prompt_tokens", resp.Usage.PromptTokens).
			Int("completion_tokens", resp.Usage.CompletionTokens).
			Msg("Inquiry answered")
		return reply, nil
	}

	return "", fmt.Errorf("%s: %w", op, lastErr)
}

const systemPrompt = `Eres un asistente que ayuda a autónomos en España con el modelo 130 ` +
	`(pago fraccionado del IRPF en estimación directa). Responde en español, de forma breve ` +
	`y práctica. Aclara que la respuesta es orientativa y no sustituye el asesoramiento de un profesional.`

func buildPrompt(question string, summary *tax.Summary) string {
	var b strings.Builder
	if summary != nil {
		d := summary.Declaration
		fmt.Fprintf(&b, "Último cálculo (ejercicio %d, trimestre %dT, %s):\n", d.Year, d.Quarter, d.Regime)
		fmt.Fprintf(&b, "- Ingresos: %s EUR\n", tax.Money(summary.IncomeTotal))
		fmt.Fprintf(&b, "- Gastos: %s EUR\n", tax.Money(summary.ExpenseTotal))
		fmt.Fprintf(&b, "- Rendimiento neto: %s EUR\n", tax.Money(summary.NetYield))
		fmt.Fprintf(&b, "- Pago fraccionado: %s EUR\n", tax.Money(summary.Installment))
		fmt.Fprintf(&b, "- Retenciones: %s EUR\n", tax.Money(summary.WithholdingTotal))
		fmt.Fprintf(&b, "- Pagos previos: %s EUR\n", tax.Money(summary.PriorPayments))
		fmt.Fprintf(&b, "- %s: %s EUR\n\n", summary.Outcome.Label(), tax.Money(summary.Payable))
	}
	b.WriteString("Consulta: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}
