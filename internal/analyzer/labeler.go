package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// Labeler describes an image with the five label fields.
type Labeler interface {
	// Label always returns usable labels; a non-nil error explains why they
	// are placeholders.
	Label(ctx context.Context, data []byte, features Features) (scrape.Labels, error)
}

// Placeholder label sets.
var (
	// BlockedLabels marks an empty model response (e.g. safety filtering).
	BlockedLabels = scrape.Labels{Category: "Blocked", Color: "N/A", Material: "N/A", Vibe: "N/A", Season: "N/A"}
	// ErrorLabels marks a failed model call or an unparsable response.
	ErrorLabels = scrape.Labels{Category: "Error", Color: "Error", Material: "Error", Vibe: "Error", Season: "Error"}
)

// ErrEmptyResponse is returned with BlockedLabels.
var ErrEmptyResponse = errors.New("model returned no text")

const promptTemplate = `You are a fashion market analyst.
Data: RGB [%d, %d, %d], Brightness %.3f

Respond ONLY in valid JSON:
{
"category": "",
"color": "",
"material": "",
"vibe": "",
"season": ""
}`

// BuildPrompt renders the labeling prompt for an image's features.
func BuildPrompt(f Features) string {
	return fmt.Sprintf(promptTemplate, f.AvgColorRGB[0], f.AvgColorRGB[1], f.AvgColorRGB[2], f.Brightness)
}

// LLMLabeler asks a multimodal model to label the image.
type LLMLabeler struct {
	model  llms.Model
	logger *zap.Logger
}

// NewLLMLabeler wraps a langchaingo model.
func NewLLMLabeler(model llms.Model, logger *zap.Logger) *LLMLabeler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMLabeler{model: model, logger: logger}
}

// Label sends the prompt and the image bytes in one human message.
func (l *LLMLabeler) Label(ctx context.Context, data []byte, features Features) (scrape.Labels, error) {
	messages := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextPart(BuildPrompt(features)),
			llms.BinaryPart(features.MIMEType(), data),
		},
	}}
	resp, err := l.model.GenerateContent(ctx, messages, llms.WithJSONMode())
	if err != nil {
		return ErrorLabels, fmt.Errorf("generate labels: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return BlockedLabels, ErrEmptyResponse
	}
	labels, err := ParseLabels(resp.Choices[0].Content)
	if err != nil {
		l.logger.Debug("unparsable label response", zap.String("content", resp.Choices[0].Content))
		return ErrorLabels, err
	}
	return labels, nil
}

// ParseLabels strips markdown code fences and decodes the JSON object.
func ParseLabels(text string) (scrape.Labels, error) {
	clean := strings.ReplaceAll(text, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)
	var labels scrape.Labels
	if err := json.Unmarshal([]byte(clean), &labels); err != nil {
		return scrape.Labels{}, fmt.Errorf("decode labels: %w", err)
	}
	return labels, nil
}

// HeuristicLabeler labels images from their features alone. It is used when
// no model is configured.
type HeuristicLabeler struct{}

// Label names the closest palette colour and guesses a season from brightness.
func (HeuristicLabeler) Label(_ context.Context, _ []byte, f Features) (scrape.Labels, error) {
	return scrape.Labels{
		Category: "unknown",
		Color:    NearestColor(f.AvgColorRGB),
		Material: "unknown",
		Vibe:     "unknown",
		Season:   seasonFor(f.Brightness),
	}, nil
}

type namedColor struct {
	name string
	rgb  [3]int
}

var palette = []namedColor{
	{"black", [3]int{0, 0, 0}},
	{"white", [3]int{255, 255, 255}},
	{"gray", [3]int{128, 128, 128}},
	{"red", [3]int{200, 30, 30}},
	{"orange", [3]int{240, 140, 30}},
	{"yellow", [3]int{240, 220, 40}},
	{"green", [3]int{40, 150, 60}},
	{"blue", [3]int{40, 80, 200}},
	{"navy", [3]int{20, 30, 80}},
	{"purple", [3]int{120, 50, 160}},
	{"pink", [3]int{240, 150, 190}},
	{"brown", [3]int{120, 75, 40}},
	{"beige", [3]int{220, 200, 160}},
}

// NearestColor returns the palette name closest to rgb in Euclidean distance.
func NearestColor(rgb [3]int) string {
	best, bestDist := "", math.MaxFloat64
	for _, c := range palette {
		var d float64
		for i := range rgb {
			diff := float64(rgb[i] - c.rgb[i])
			d += diff * diff
		}
		if d < bestDist {
			best, bestDist = c.name, d
		}
	}
	return best
}

func seasonFor(brightness float64) string {
	switch {
	case brightness >= 0.65:
		return "summer"
	case brightness >= 0.5:
		return "spring"
	case brightness >= 0.35:
		return "autumn"
	default:
		return "winter"
	}
}
