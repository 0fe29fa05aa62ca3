package domain

import "strings"

// quotaMarkers is the degraded-mode heuristic for servers that do not send an
// explicit error kind. Prefer Event.ErrorKind / HTTP 429 whenever available.
// Markers stay narrow: "limite" alone also matches size and page limits.
var quotaMarkers = []string{"quota", "cota", "429", "limite de uso", "usage limit", "resource_exhausted"}

func LooksLikeQuotaMessage(text string) bool {
	s := strings.ToLower(text)
	if s == "" {
		return false
	}
	for _, marker := range quotaMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

var friendlyErrors = []struct {
	marker string
	text   string
}{
	{"api key not valid", "Invalid AI provider API key."},
	{"json", "Could not process the AI response."},
	{"corrompido", "The ZIP archive looks corrupted."},
	{"extrair zip", "Could not extract files from the ZIP archive."},
	{"leitura do arquivo", "Could not read the file contents."},
	{"baixar url", "Could not download web content."},
	{"sumarizar", "Could not summarize web content."},
}

// FriendlyError turns a raw server error message into a short user-facing line.
func FriendlyError(message string) string {
	if strings.TrimSpace(message) == "" {
		return "An unexpected error occurred."
	}
	if LooksLikeQuotaMessage(message) {
		return "AI usage limit reached."
	}
	s := strings.ToLower(message)
	for _, fe := range friendlyErrors {
		if strings.Contains(s, fe.marker) {
			return fe.text
		}
	}
	return message
}
