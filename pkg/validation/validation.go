package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// IdentityRegex validates user identity format
	IdentityRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

const maxContentLength = 4096

// ValidateRoomID validates room ID format
func ValidateRoomID(roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	if len(roomID) > 100 {
		return fmt.Errorf("room id is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("room id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateIdentity validates a user identity string
func ValidateIdentity(identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if len(identity) > 128 {
		return fmt.Errorf("identity is too long (max 128 characters)")
	}
	if !IdentityRegex.MatchString(identity) {
		return fmt.Errorf("identity contains invalid characters")
	}
	return nil
}

// ValidateContent validates chat message content
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is required")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return fmt.Errorf("content is too long (max %d characters)", maxContentLength)
	}
	return nil
}

// ValidateImageURL validates an uploaded image reference
func ValidateImageURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("image url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid image url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("image url must use http or https")
	}
	return nil
}

// ValidateUsername validates username for login
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters")
	}
	if len(username) > 50 {
		return fmt.Errorf("username is too long (max 50 characters)")
	}
	if !IdentityRegex.MatchString(username) {
		return fmt.Errorf("username contains invalid characters (only letters, numbers, ., _, - allowed)")
	}
	return nil
}
