// Package validation holds input rules for campaign fields.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field limits, counted in runes.
const (
	MaxTitleLength       = 120
	MaxDescriptionLength = 5000
	MaxCategoryLength    = 40
	MaxImageURLLength    = 2048
	MaxCommentLength     = 2000
	MaxUserIDLength      = 320
	MaxDisplayNameLength = 80
)

func requireText(field, value string, max int) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	if utf8.RuneCountInString(trimmed) > max {
		return "", fmt.Errorf("%s must be at most %d characters", field, max)
	}
	return trimmed, nil
}

// ValidateTitle returns the trimmed title.
func ValidateTitle(title string) (string, error) {
	return requireText("title", title, MaxTitleLength)
}

// ValidateDescription returns the trimmed description.
func ValidateDescription(description string) (string, error) {
	return requireText("description", description, MaxDescriptionLength)
}

// ValidateCategory trims and lower-cases category and checks it against
// allowed. An empty allow-list accepts any category.
func ValidateCategory(category string, allowed []string) (string, error) {
	trimmed, err := requireText("category", category, MaxCategoryLength)
	if err != nil {
		return "", err
	}
	normalized := strings.ToLower(trimmed)
	if len(allowed) == 0 {
		return normalized, nil
	}
	for _, a := range allowed {
		if a == normalized {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("category must be one of: %s", strings.Join(allowed, ", "))
}

// ValidateImageURL only bounds the length; the value is stored verbatim.
func ValidateImageURL(imageURL string) (string, error) {
	trimmed := strings.TrimSpace(imageURL)
	if len(trimmed) > MaxImageURLLength {
		return "", fmt.Errorf("imageUrl must be at most %d characters", MaxImageURLLength)
	}
	return trimmed, nil
}

// ValidateCommentText returns the trimmed comment body.
func ValidateCommentText(text string) (string, error) {
	return requireText("text", text, MaxCommentLength)
}

// ValidateUserID returns the trimmed user id.
func ValidateUserID(userID string) (string, error) {
	return requireText("userId", userID, MaxUserIDLength)
}

// NormalizeDisplayName trims name and clips it to MaxDisplayNameLength runes.
func NormalizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= MaxDisplayNameLength {
		return name
	}
	return string([]rune(name)[:MaxDisplayNameLength])
}
