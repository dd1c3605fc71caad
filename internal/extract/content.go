// Package extract turns the current page into content for the model,
// escalating from cheap text reads to a screenshot only when needed.
package extract

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

var errEmptyCapture = errors.New("empty screenshot")

// Kind tags a RawContent.
type Kind int

const (
	KindText Kind = iota
	KindScreenshot
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindScreenshot:
		return "screenshot"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Rung names the extraction method that produced a RawContent.
type Rung string

const (
	RungDirect      Rung = "direct_text"
	RungScript      Rung = "script_text"
	RungScreenshot  Rung = "screenshot"
	RungPlaceholder Rung = "placeholder"
	RungFile        Rung = "file"
)

// Placeholder is the text returned when nothing could be captured.
const Placeholder = "[contenido no disponible: no se pudo extraer texto ni capturar la pantalla]"

// RawContent is one extraction attempt's output. Exactly one of Text and
// Image is set, according to Kind.
type RawContent struct {
	Kind         Kind
	Text         string
	Image        []byte
	MediaType    string // for screenshots, e.g. image/png
	SourceLength int    // characters of text or bytes of image before truncation
	Rung         Rung
	Truncated    bool
}

// TextContent builds a text RawContent, truncating to maxChars runes when
// maxChars > 0.
func TextContent(text string, rung Rung, maxChars int) RawContent {
	text = strings.TrimSpace(text)
	rc := RawContent{Kind: KindText, Text: text, SourceLength: utf8.RuneCountInString(text), Rung: rung}
	if maxChars > 0 && rc.SourceLength > maxChars {
		rc.Text = string([]rune(text)[:maxChars])
		rc.Truncated = true
	}
	return rc
}

// ImageContent builds a screenshot RawContent.
func ImageContent(data []byte, rung Rung) RawContent {
	return RawContent{
		Kind:         KindScreenshot,
		Image:        data,
		MediaType:    http.DetectContentType(data),
		SourceLength: len(data),
		Rung:         rung,
	}
}

// PlaceholderContent is the well-formed value returned when capture failed.
func PlaceholderContent() RawContent {
	return RawContent{Kind: KindText, Text: Placeholder, SourceLength: 0, Rung: RungPlaceholder}
}

// IsPlaceholder reports whether rc carries no captured content.
func (rc RawContent) IsPlaceholder() bool {
	return rc.Rung == RungPlaceholder
}
