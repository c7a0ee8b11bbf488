package event

import (
	"fmt"
	"net/url"
	"strings"
)

// cspReportKey is the hyphenated wrapper key browsers use, per the CSP
// reporting spec.
const cspReportKey = "csp-report"

// CSPReport returns the inner report object of a CSP payload.
func CSPReport(payload Payload) map[string]any {
	return getMap(payload, cspReportKey)
}

func cspMetadata(payload Payload) map[string]any {
	report := CSPReport(payload)
	return map[string]any{
		"message":   cspReportTitle(report),
		"uri":       cspBlockedHost(report),
		"directive": cspEffectiveDirective(report),
	}
}

func cspTitle(metadata map[string]any) string {
	return getString(metadata, "message")
}

func cspCulprit(payload Payload) string {
	return getString(CSPReport(payload), "violated-directive")
}

// cspEffectiveDirective returns the report's effective-directive, or infers
// it as the first token of violated-directive — some browsers send only the
// latter.
func cspEffectiveDirective(report map[string]any) string {
	if v, ok := report["effective-directive"]; ok {
		return anyToString(v)
	}
	fields := strings.Fields(getString(report, "violated-directive"))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// cspBlockedHost extracts the network location (host[:port]) of the blocked
// resource; the path and query are discarded.
func cspBlockedHost(report map[string]any) string {
	u, err := url.Parse(getString(report, "blocked-uri"))
	if err != nil {
		return ""
	}
	return u.Host
}

func cspReportTitle(report map[string]any) string {
	directive := strings.ReplaceAll(cspEffectiveDirective(report), "-src", "")
	return fmt.Sprintf("Blocked '%s' from '%s'", directive, cspBlockedHost(report))
}

// NormalizeCSPReport rewrites the report's hyphenated keys to underscore
// form for storage, and backfills effective_directive with the inferred
// value when the browser omitted it.
func NormalizeCSPReport(report map[string]any) map[string]any {
	normalized := make(map[string]any, len(report))
	for k, v := range report {
		normalized[strings.ReplaceAll(k, "-", "_")] = v
	}
	if _, ok := normalized["effective_directive"]; !ok {
		normalized["effective_directive"] = cspEffectiveDirective(report)
	}
	return normalized
}
