package event

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/faultline-dev/faultline/pkg/models"
)

// TagProcessor contributes at most one (key, value) search tag per event.
// Compute returns "" when the payload carries nothing for this tag.
type TagProcessor struct {
	Tag     string
	Compute func(payload Payload) string
}

// ExtractTags runs the processors in registration order over a normalized
// payload. Output order follows registration order; a panicking processor is
// skipped and logged, never fatal.
func ExtractTags(payload Payload, processors []TagProcessor, logger *slog.Logger) []models.TagPair {
	var tags []models.TagPair
	for _, proc := range processors {
		value, err := computeTag(proc, payload)
		if err != nil {
			logger.Warn("tag processor failed", "tag", proc.Tag, "error", err)
			continue
		}
		if value == "" {
			continue
		}
		tags = append(tags, models.TagPair{Key: proc.Tag, Value: value})
	}
	return tags
}

func computeTag(proc TagProcessor, payload Payload) (value string, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = "", fmt.Errorf("panic: %v", r)
		}
	}()
	return proc.Compute(payload), nil
}

// DefaultTagProcessors returns the built-in set. Order here fixes the
// persistence order of a single event's tags.
func DefaultTagProcessors() []TagProcessor {
	return []TagProcessor{
		{Tag: "level", Compute: payloadField("level")},
		{Tag: "release", Compute: payloadField("release")},
		{Tag: "environment", Compute: payloadField("environment")},
		{Tag: "server_name", Compute: payloadField("server_name")},
		{Tag: "transaction", Compute: payloadField("transaction")},
		{Tag: "user.id", Compute: userField("id")},
		{Tag: "user.email", Compute: userField("email")},
		{Tag: "browser", Compute: contextNameVersion("browser")},
		{Tag: "browser.name", Compute: contextField("browser", "name")},
		{Tag: "os", Compute: contextNameVersion("os")},
		{Tag: "os.name", Compute: contextField("os", "name")},
		{Tag: "device", Compute: contextField("device", "family")},
	}
}

func payloadField(field string) func(Payload) string {
	return func(payload Payload) string {
		return anyToString(payload[field])
	}
}

func userField(field string) func(Payload) string {
	return func(payload Payload) string {
		return anyToString(getMap(payload, "user")[field])
	}
}

func contextField(name, field string) func(Payload) string {
	return func(payload Payload) string {
		contexts := getMap(payload, "contexts")
		return anyToString(getMap(contexts, name)[field])
	}
}

// contextNameVersion renders "Name Version" from a context entry, or just
// the name when no version was recorded.
func contextNameVersion(name string) func(Payload) string {
	return func(payload Payload) string {
		contexts := getMap(payload, "contexts")
		entry := getMap(contexts, name)
		n := anyToString(entry["name"])
		if n == "" {
			return ""
		}
		v := anyToString(entry["version"])
		if v == "" {
			return n
		}
		return strings.TrimSpace(n + " " + v)
	}
}
