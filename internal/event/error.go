package event

import "fmt"

const (
	unknownError     = "<unknown>"
	excTypeMaxRunes  = 128
	excValueMaxRunes = 1024
)

func errorMetadata(payload Payload) map[string]any {
	value := lastExceptionValue(payload)
	if value == nil {
		return map[string]any{}
	}

	metadata := map[string]any{
		"value": truncate(anyToString(value["value"]), excValueMaxRunes),
	}
	if ty := getString(value, "type"); ty != "" {
		metadata["type"] = truncate(ty, excTypeMaxRunes)
	}
	if function, filename, ok := crashLocation(value); ok {
		metadata["function"] = function
		metadata["filename"] = filename
	}
	return metadata
}

func errorTitle(metadata map[string]any) string {
	ty := getString(metadata, "type")
	if ty == "" {
		if function := getString(metadata, "function"); function != "" {
			return function
		}
		return unknownError
	}
	value := getString(metadata, "value")
	if value == "" {
		return ty
	}
	return fmt.Sprintf("%s: %s", ty, truncate(firstLine(value), titleMaxRunes))
}

func errorCulprit(payload Payload) string {
	if culprit := defaultCulprit(payload); culprit != "" {
		return culprit
	}
	value := lastExceptionValue(payload)
	if value == nil {
		return ""
	}
	function, filename, ok := crashLocation(value)
	if !ok {
		return ""
	}
	if function == "" {
		return filename
	}
	if filename == "" {
		return function
	}
	return fmt.Sprintf("%s(%s)", function, filename)
}

// SanitizeException rewrites an exception in place before storage: the
// module field is dropped from every value, and when an SDK marks every
// frame of a stacktrace as application code the flag is forced false
// everywhere. A uniformly true in_app signal means the SDK's in-app
// detection defaulted on, and downstream frame highlighting treats it as
// noise. Inherited behavior from the compatible client ecosystem; do not
// "fix" it.
func SanitizeException(exception map[string]any) {
	for _, v := range getSlice(exception, "values") {
		value, ok := v.(map[string]any)
		if !ok {
			continue
		}
		delete(value, "module")

		stacktrace := getMap(value, "stacktrace")
		frames := getSlice(stacktrace, "frames")
		if len(frames) == 0 {
			continue
		}
		allInApp := true
		for _, f := range frames {
			frame, ok := f.(map[string]any)
			if !ok || frame["in_app"] != true {
				allInApp = false
				break
			}
		}
		if !allInApp {
			continue
		}
		for _, f := range frames {
			if frame, ok := f.(map[string]any); ok {
				frame["in_app"] = false
			}
		}
	}
}

// lastExceptionValue returns the last entry of exception.values, which SDKs
// order from cause to effect.
func lastExceptionValue(payload Payload) map[string]any {
	exception := getMap(payload, "exception")
	values := getSlice(exception, "values")
	if len(values) == 0 {
		return nil
	}
	value, _ := values[len(values)-1].(map[string]any)
	return value
}

// crashLocation picks the frame that best describes where the crash
// happened: the innermost application frame, or the innermost frame at all
// when none are marked in-app.
func crashLocation(value map[string]any) (function, filename string, ok bool) {
	stacktrace := getMap(value, "stacktrace")
	frames := getSlice(stacktrace, "frames")
	if len(frames) == 0 {
		return "", "", false
	}

	var chosen map[string]any
	for i := len(frames) - 1; i >= 0; i-- {
		frame, isMap := frames[i].(map[string]any)
		if !isMap {
			continue
		}
		if chosen == nil {
			chosen = frame
		}
		if frame["in_app"] == true {
			chosen = frame
			break
		}
	}
	if chosen == nil {
		return "", "", false
	}

	filename = getString(chosen, "filename")
	if filename == "" {
		filename = getString(chosen, "module")
	}
	return getString(chosen, "function"), filename, true
}

func anyToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
