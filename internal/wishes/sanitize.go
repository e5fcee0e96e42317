package wishes

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// maxTimestampMillis is the largest integer a JSON client can represent exactly.
const maxTimestampMillis = 1<<53 - 1

// Sanitizer coerces arbitrary decoded input into well-formed wishes.
type Sanitizer struct {
	clock      func() time.Time
	idProvider IDProvider
}

// NewSanitizer returns a Sanitizer that fills missing ids and timestamps from the given sources.
func NewSanitizer(clock func() time.Time, idProvider IDProvider) *Sanitizer {
	if clock == nil {
		clock = time.Now
	}
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	return &Sanitizer{clock: clock, idProvider: idProvider}
}

// Sanitize accepts a Wish, a *Wish, or a decoded JSON object and always returns a valid Wish.
// Any other input yields a fresh wish with default fields. Sanitize is idempotent.
func (s *Sanitizer) Sanitize(input any) Wish {
	record := toRecord(input)

	id, _ := coerceString(record["id"])
	id = cleanText(id, maxIdentifierLength)
	if id == "" {
		id = s.newID()
	}

	createdAt := s.clock().UnixMilli()
	if value, ok := coerceNumber(record["createdAt"]); ok && value >= 1 && value <= maxTimestampMillis {
		createdAt = int64(value)
	}

	message, _ := coerceString(record["message"])
	author, _ := coerceString(record["author"])
	color, _ := coerceString(record["color"])
	color = cleanText(color, MaxColorLength)
	if color == "" {
		color = DefaultColor
	}
	password, _ := coerceString(record["password"])

	return Wish{
		ID:        id,
		CreatedAt: createdAt,
		Message:   cleanText(message, MaxMessageLength),
		Author:    cleanText(author, MaxAuthorLength),
		Color:     color,
		X:         coerceCoordinate(record["x"]),
		Y:         coerceCoordinate(record["y"]),
		Password:  password,
	}
}

func (s *Sanitizer) newID() string {
	id, err := s.idProvider.NewID()
	if err != nil || strings.TrimSpace(id) == "" {
		return fmt.Sprintf("wish-%d", s.clock().UnixNano())
	}
	return id
}

func toRecord(input any) map[string]any {
	switch value := input.(type) {
	case map[string]any:
		return value
	case Wish:
		return wishRecord(value)
	case *Wish:
		if value == nil {
			return map[string]any{}
		}
		return wishRecord(*value)
	default:
		return map[string]any{}
	}
}

func wishRecord(wish Wish) map[string]any {
	return map[string]any{
		"id":        wish.ID,
		"createdAt": float64(wish.CreatedAt),
		"message":   wish.Message,
		"author":    wish.Author,
		"color":     wish.Color,
		"x":         wish.X,
		"y":         wish.Y,
		"password":  wish.Password,
	}
}

func coerceString(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case json.Number:
		return typed.String(), true
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return "", false
		}
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return "", false
	}
}

func coerceNumber(value any) (float64, bool) {
	var number float64
	switch typed := value.(type) {
	case float64:
		number = typed
	case float32:
		number = float64(typed)
	case int:
		number = float64(typed)
	case int64:
		number = float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		number = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		number = parsed
	default:
		return 0, false
	}
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}

func coerceCoordinate(value any) float64 {
	number, ok := coerceNumber(value)
	if !ok {
		return CenterCoordinate
	}
	return clampCoordinate(number)
}

func clampCoordinate(value float64) float64 {
	if value < minCoordinate {
		return minCoordinate
	}
	if value > maxCoordinate {
		return maxCoordinate
	}
	return value
}

// StripControl removes invalid UTF-8 and control characters other than tab,
// newline and carriage return.
func StripControl(value string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.ToValidUTF8(value, ""))
}

// cleanText strips control characters, trims surrounding whitespace, and
// bounds the result to limit runes.
func cleanText(value string, limit int) string {
	if value == "" {
		return ""
	}
	cleaned := strings.TrimSpace(StripControl(value))
	if utf8.RuneCountInString(cleaned) > limit {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:limit]))
	}
	return cleaned
}
