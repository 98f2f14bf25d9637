package cache

import (
	"strconv"
	"strings"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

// KeyPrefix namespaces every key this system writes to Redis.
const KeyPrefix = "factory"

const (
	// UpdateQueueKey is the list the control plane pushes changed experiment ids to.
	UpdateQueueKey = KeyPrefix + ":queue:updates"
	// InvalidationChannel carries experiment ids whose L1 entries must be dropped.
	InvalidationChannel = KeyPrefix + ":events:invalidation"
	// HydrationMarkerKey exists while Redis holds a full copy of the experiments table.
	HydrationMarkerKey = KeyPrefix + ":sys:hydrated"
)

// maxVersionDigits bounds the search for the version separator: int64 has at most 19 digits plus a sign.
const maxVersionDigits = 20

// ExperimentKey returns the Redis key of an experiment definition.
func ExperimentKey(id string) string {
	return KeyPrefix + ":experiment:" + id
}

// AssignmentKey returns the Redis key of a stored assignment. The suffix is the
// sanitized "exp__user" concatenation also used as the assignment's document id.
func AssignmentKey(experimentID, userKey string) string {
	return KeyPrefix + ":assignment:" + experiment.AssignmentKey(experimentID, userKey)
}

// encodeEntry prefixes the JSON payload with its version: "<version>|<json>".
func encodeEntry(jsonData []byte, version int64) string {
	var b strings.Builder
	b.Grow(len(jsonData) + maxVersionDigits + 1)
	b.WriteString(strconv.FormatInt(version, 10))
	b.WriteByte('|')
	b.Write(jsonData)
	return b.String()
}

// decodeEntry strips the version prefix. Values without a prefix are returned unchanged.
func decodeEntry(encoded string) string {
	if idx := separatorIndex(encoded); idx >= 0 {
		return encoded[idx+1:]
	}
	return encoded
}

// entryVersion returns the version prefix of an encoded value.
func entryVersion(encoded string) (int64, bool) {
	idx := separatorIndex(encoded)
	if idx < 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(encoded[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func separatorIndex(encoded string) int {
	limit := min(len(encoded), maxVersionDigits)
	return strings.IndexByte(encoded[:limit], '|')
}

// EncodeQueueMessage builds an update queue entry "<experimentID>:<version>".
func EncodeQueueMessage(experimentID string, version int64) string {
	return experimentID + ":" + strconv.FormatInt(version, 10)
}

// DecodeQueueMessage splits a queue entry at its last colon. Entries without a
// parsable version are treated as a bare id with version 0.
func DecodeQueueMessage(msg string) (string, int64) {
	idx := strings.LastIndexByte(msg, ':')
	if idx < 0 {
		return msg, 0
	}
	version, err := strconv.ParseInt(msg[idx+1:], 10, 64)
	if err != nil {
		return msg, 0
	}
	return msg[:idx], version
}
