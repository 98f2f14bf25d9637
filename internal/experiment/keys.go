package experiment

import "strings"

// keySeparator joins the parts of composite storage and idempotency keys.
const keySeparator = "__"

// SanitizeKey makes a caller-supplied key safe for use as a storage identifier.
// Every "/" becomes "_".
func SanitizeKey(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

// AssignmentKey is the flat storage key of the assignment for (experimentID, userKey).
func AssignmentKey(experimentID, userKey string) string {
	return SanitizeKey(experimentID + keySeparator + userKey)
}

// IdempotencyKey builds a stable event key from its purpose, the experiment, the user
// and optional discriminators, e.g. "exposure__exp-1__user-1" or
// "conversion__exp-1__user-1__checkout".
func IdempotencyKey(purpose, experimentID, userKey string, discriminators ...string) string {
	parts := make([]string, 0, 3+len(discriminators))
	parts = append(parts, strings.ToLower(purpose), experimentID, userKey)
	for _, d := range discriminators {
		if d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, keySeparator)
}
