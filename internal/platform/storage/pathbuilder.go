package storage

import (
	"fmt"
	"strings"
	"time"
)

// WebhookEventPath lays out archived gateway events by provider and receive date, e.g.
// stripe/2025/05/06/evt_123.json.
func WebhookEventPath(provider, eventID string, receivedAt time.Time) (string, error) {
	provider, err := validateSegment("provider", strings.ToLower(provider))
	if err != nil {
		return "", err
	}
	eventID, err = validateSegment("eventID", eventID)
	if err != nil {
		return "", err
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return fmt.Sprintf("%s/%s/%s.json", provider, receivedAt.UTC().Format("2006/01/02"), eventID), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
