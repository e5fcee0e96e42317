package server

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/wishes"
)

const (
	minPasswordLength = 4
	// bcrypt rejects longer inputs.
	maxPasswordBytes  = 72
)

const (
	errorInvalidRequest     = "invalid_request"
	errorMessageRequired    = "message_required"
	errorMessageTooLong     = "message_too_long"
	errorAuthorRequired     = "author_required"
	errorAuthorTooLong      = "author_too_long"
	errorColorTooLong       = "color_too_long"
	errorInvalidContent     = "invalid_content"
	errorPasswordTooShort   = "password_too_short"
	errorPasswordTooLong    = "password_too_long"
	errorPasswordChanged    = "password_changed"
	errorCoordinatesInvalid = "coordinates_out_of_range"
	errorNotFound           = "not_found"
	errorLocked             = "locked"
	errorWrongPassword      = "wrong_password"
	errorCollectionFull     = "collection_full"
	errorRateLimited        = "rate_limited"
	errorInternal           = "internal_error"
)

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)<iframe`),
	regexp.MustCompile(`(?i)<object`),
	regexp.MustCompile(`(?i)<embed`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
}

type wishRequestPayload struct {
	Message         string   `json:"message"`
	Author          string   `json:"author"`
	Color           string   `json:"color"`
	X               *float64 `json:"x"`
	Y               *float64 `json:"y"`
	Password        string   `json:"password"`
	CurrentPassword string   `json:"current_password"`
}

// draft validates the payload and returns the store draft, or the error code
// to report. Missing coordinates default to the center of the tree.
func (p wishRequestPayload) draft() (wishes.Draft, string) {
	if code := validateText(p.Message, wishes.MaxMessageLength, errorMessageRequired, errorMessageTooLong); code != "" {
		return wishes.Draft{}, code
	}
	if code := validateText(p.Author, wishes.MaxAuthorLength, errorAuthorRequired, errorAuthorTooLong); code != "" {
		return wishes.Draft{}, code
	}
	color := strings.TrimSpace(wishes.StripControl(p.Color))
	if utf8.RuneCountInString(color) > wishes.MaxColorLength {
		return wishes.Draft{}, errorColorTooLong
	}
	if containsSuspiciousContent(color) {
		return wishes.Draft{}, errorInvalidContent
	}
	if p.Password != "" && utf8.RuneCountInString(p.Password) < minPasswordLength {
		return wishes.Draft{}, errorPasswordTooShort
	}
	if len(p.Password) > maxPasswordBytes {
		return wishes.Draft{}, errorPasswordTooLong
	}

	x, y := wishes.CenterCoordinate, wishes.CenterCoordinate
	if p.X != nil {
		x = *p.X
	}
	if p.Y != nil {
		y = *p.Y
	}
	if !coordinateInRange(x) || !coordinateInRange(y) {
		return wishes.Draft{}, errorCoordinatesInvalid
	}

	return wishes.Draft{
		Message:  p.Message,
		Author:   p.Author,
		Color:    color,
		X:        x,
		Y:        y,
		Password: p.Password,
	}, ""
}

// validateText checks the value as the store will keep it, after control
// characters are stripped.
func validateText(value string, limit int, requiredCode, tooLongCode string) string {
	trimmed := strings.TrimSpace(wishes.StripControl(value))
	if trimmed == "" {
		return requiredCode
	}
	if utf8.RuneCountInString(trimmed) > limit {
		return tooLongCode
	}
	if containsSuspiciousContent(trimmed) {
		return errorInvalidContent
	}
	return ""
}

func containsSuspiciousContent(value string) bool {
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

func coordinateInRange(value float64) bool {
	return value >= 0 && value <= 100
}
