package ingest

import (
	"fmt"

	"github.com/faultline-dev/faultline/internal/event"
	"github.com/google/uuid"
)

// validateSDKEvent checks the shared schema of default and error events and
// returns the parsed event id, or uuid.Nil when the client supplied none.
func validateSDKEvent(payload event.Payload) (uuid.UUID, error) {
	var eventID uuid.UUID
	if raw, ok := payload["event_id"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return uuid.Nil, fmt.Errorf("%w: event_id must be a string", ErrValidation)
		}
		// uuid.Parse accepts both the canonical and the raw 32-hex forms,
		// the two shapes SDKs send.
		parsed, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: event_id %q is not a valid identifier", ErrValidation, s)
		}
		eventID = parsed
	}

	platform, ok := payload["platform"].(string)
	if !ok || platform == "" {
		return uuid.Nil, fmt.Errorf("%w: platform is required", ErrValidation)
	}

	if sdk, ok := payload["sdk"].(map[string]any); !ok || len(sdk) == 0 {
		return uuid.Nil, fmt.Errorf("%w: sdk is required", ErrValidation)
	}

	return eventID, nil
}

// validateCSPReport checks the browser report schema, which shares nothing
// with the SDK event schema.
func validateCSPReport(payload event.Payload) error {
	report := event.CSPReport(payload)
	if len(report) == 0 {
		return fmt.Errorf("%w: csp-report is required", ErrValidation)
	}
	if _, ok := report["blocked-uri"].(string); !ok {
		return fmt.Errorf("%w: csp-report.blocked-uri is required", ErrValidation)
	}
	if s, ok := report["violated-directive"].(string); !ok || s == "" {
		return fmt.Errorf("%w: csp-report.violated-directive is required", ErrValidation)
	}
	return nil
}
