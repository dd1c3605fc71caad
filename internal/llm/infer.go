package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmylchreest/refyne-harvest/internal/extract"
	"github.com/jmylchreest/refyne-harvest/internal/repair"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

const systemPrompt = `Eres un asistente experto en historias clínicas. Lees documentos clínicos
(texto o imágenes escaneadas) y extraes datos estructurados con precisión.
Responde únicamente con JSON válido, sin explicaciones ni bloques de código.`

// Prompt builds the user prompt for content described by s.
func Prompt(s *schema.Schema, content extract.RawContent) string {
	var b strings.Builder
	if content.Kind == extract.KindScreenshot {
		b.WriteString("Lee esta historia clínica escaneada y extrae los campos indicados.\n")
	} else {
		b.WriteString("Lee el siguiente texto de una historia clínica y extrae los campos indicados.\n")
	}
	b.WriteString(s.Instructions())
	if content.Kind == extract.KindText {
		b.WriteString("\nTexto:\n")
		b.WriteString(content.Text)
	}
	return b.String()
}

// Infer sends content to the model and returns the candidate record it
// describes. A reply that cannot be repaired yields s.Default(); only a
// failed call returns an error (matching ErrModelUnavailable).
func (c *Client) Infer(ctx context.Context, content extract.RawContent, s *schema.Schema) (schema.Candidate, error) {
	user := Message{Role: "user", Text: Prompt(s, content)}
	if content.Kind == extract.KindScreenshot {
		user.Images = [][]byte{content.Image}
		user.MediaType = content.MediaType
	}

	result, err := c.Complete(ctx, Request{
		Messages: []Message{{Role: "system", Text: systemPrompt}, user},
		JSONMode: true,
	})
	if err != nil {
		return schema.Candidate{}, fmt.Errorf("failed to infer %s content: %w", content.Kind, err)
	}

	candidate, ok := repair.Recover(result.Content, s)
	if !ok {
		c.logger.Warn("unparsable model response, using sentinel record",
			"model", result.Model,
			"rung", string(content.Rung),
			"response_preview", truncate(result.Content, 200),
		)
	}
	return candidate, nil
}

// ReadCaptcha asks the model for the digits shown in a captcha image.
func (c *Client) ReadCaptcha(ctx context.Context, image []byte) (string, error) {
	s := schema.Captcha()
	result, err := c.Complete(ctx, Request{
		Messages: []Message{
			{Role: "system", Text: systemPrompt},
			{
				Role:   "user",
				Text:   "La imagen contiene un código captcha numérico. " + s.Instructions(),
				Images: [][]byte{image},
			},
		},
		JSONMode: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to read captcha: %w", err)
	}

	candidate, ok := repair.Recover(result.Content, s)
	code := digitsOnly(candidate.Subject[schema.CaptchaField])
	if !ok || code == "" {
		// Some models answer with the bare digits.
		code = digitsOnly(result.Content)
	}
	if code == "" {
		return "", fmt.Errorf("no digits in captcha reply %q", truncate(result.Content, 80))
	}
	return code, nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
