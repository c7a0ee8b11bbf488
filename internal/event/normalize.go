package event

import "github.com/faultline-dev/faultline/pkg/models"

// normalizer holds the per-type derivation functions. Types are a closed
// set, so dispatch is a table rather than an interface hierarchy.
type normalizer struct {
	metadata func(payload Payload) map[string]any
	title    func(metadata map[string]any) string
	culprit  func(payload Payload) string
}

var normalizers = map[models.EventType]normalizer{
	models.EventTypeDefault: {defaultMetadata, defaultTitle, defaultCulprit},
	models.EventTypeError:   {errorMetadata, errorTitle, errorCulprit},
	models.EventTypeCSP:     {cspMetadata, cspTitle, cspCulprit},
}

// DeriveMetadata builds the type-specific structured summary stored on the
// issue at creation.
func DeriveMetadata(t models.EventType, payload Payload) map[string]any {
	return normalizers[t].metadata(payload)
}

// DeriveTitle renders the one-line summary used as a grouping key component
// and list-view label.
func DeriveTitle(t models.EventType, metadata map[string]any) string {
	return normalizers[t].title(metadata)
}

// DeriveCulprit infers where the problem happened: a function or module for
// errors, the violated directive for CSP reports. "" means unknown.
func DeriveCulprit(t models.EventType, payload Payload) string {
	return normalizers[t].culprit(payload)
}
