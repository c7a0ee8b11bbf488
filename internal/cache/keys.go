package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func ProjectKeyKey(publicKey uuid.UUID) string {
	return fmt.Sprintf("projectkey:%s", publicKey)
}

func IngestRateLimitKey(publicKey uuid.UUID) string {
	return fmt.Sprintf("ratelimit:ingest:%s", publicKey)
}

func APIRateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:api:%s", keyPrefix)
}
