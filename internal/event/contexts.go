package event

import (
	"fmt"
	"log/slog"

	ua "github.com/mileusna/useragent"
)

// ContextProcessor derives one named context entry from a payload. Compute
// returns nil when it has nothing to contribute.
type ContextProcessor struct {
	Name    string
	Compute func(payload Payload) map[string]any
}

// EnrichContexts runs the processors in order and returns the payload's
// contexts map with derived entries added. Explicit context data from the
// client always wins: a processor only fills its slot when the existing
// entry is missing or empty. A processor that panics is skipped and logged;
// one bad processor never aborts the ingestion.
func EnrichContexts(payload Payload, processors []ContextProcessor, logger *slog.Logger) map[string]any {
	contexts, _ := payload["contexts"].(map[string]any)

	for _, proc := range processors {
		if contexts != nil && !isEmptyValue(contexts[proc.Name]) {
			continue
		}
		data, err := computeContext(proc, payload)
		if err != nil {
			logger.Warn("context processor failed", "processor", proc.Name, "error", err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		if contexts == nil {
			contexts = map[string]any{}
		}
		contexts[proc.Name] = data
	}
	return contexts
}

func computeContext(proc ContextProcessor, payload Payload) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return proc.Compute(payload), nil
}

// DefaultContextProcessors returns the built-in set: browser, os, and
// device, all parsed from the submitting request's User-Agent header.
func DefaultContextProcessors() []ContextProcessor {
	return []ContextProcessor{
		{Name: "browser", Compute: browserContext},
		{Name: "os", Compute: osContext},
		{Name: "device", Compute: deviceContext},
	}
}

func browserContext(payload Payload) map[string]any {
	agent, ok := parseUserAgent(payload)
	if !ok || agent.Name == "" {
		return nil
	}
	return map[string]any{"name": agent.Name, "version": agent.Version}
}

func osContext(payload Payload) map[string]any {
	agent, ok := parseUserAgent(payload)
	if !ok || agent.OS == "" {
		return nil
	}
	return map[string]any{"name": agent.OS, "version": agent.OSVersion}
}

func deviceContext(payload Payload) map[string]any {
	agent, ok := parseUserAgent(payload)
	if !ok || agent.Device == "" {
		return nil
	}
	return map[string]any{"family": agent.Device}
}

func parseUserAgent(payload Payload) (ua.UserAgent, bool) {
	request := getMap(payload, "request")
	if request == nil {
		return ua.UserAgent{}, false
	}
	raw := requestHeader(request, "User-Agent")
	if raw == "" {
		return ua.UserAgent{}, false
	}
	return ua.Parse(raw), true
}
