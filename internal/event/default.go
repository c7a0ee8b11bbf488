package event

const (
	unlabeledTitle = "<unlabeled event>"
	untitled       = "<untitled>"
	titleMaxRunes  = 100
)

func defaultMetadata(payload Payload) map[string]any {
	message := eventMessage(payload)
	title := unlabeledTitle
	if message != "" {
		title = truncate(firstLine(message), titleMaxRunes)
	}
	return map[string]any{"title": title}
}

func defaultTitle(metadata map[string]any) string {
	if title := getString(metadata, "title"); title != "" {
		return title
	}
	return untitled
}

func defaultCulprit(payload Payload) string {
	if culprit := getString(payload, "culprit"); culprit != "" {
		return culprit
	}
	return getString(payload, "transaction")
}

// eventMessage pulls the human message out of a payload: structured
// logentry first (formatted beats the raw template), then the bare
// message field older SDKs send.
func eventMessage(payload Payload) string {
	if logentry := getMap(payload, "logentry"); logentry != nil {
		if s := getString(logentry, "formatted"); s != "" {
			return s
		}
		if s := getString(logentry, "message"); s != "" {
			return s
		}
	}
	return getString(payload, "message")
}
