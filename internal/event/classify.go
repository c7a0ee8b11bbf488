package event

import "github.com/faultline-dev/faultline/pkg/models"

// Classify selects which normalization pipeline applies to a raw payload.
// Priority order: a non-empty exception makes it an error event; a payload
// without a platform field is a browser-generated CSP report; everything
// else falls through to default. There is no failure path — default has the
// most permissive schema, and SDKs omit optional fields unpredictably.
func Classify(payload Payload) models.EventType {
	if exc, ok := payload["exception"]; ok && !isEmptyValue(exc) {
		return models.EventTypeError
	}
	if _, ok := payload["platform"]; !ok {
		return models.EventTypeCSP
	}
	return models.EventTypeDefault
}
