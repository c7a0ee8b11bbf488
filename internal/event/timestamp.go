package event

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// timestampLayouts are tried in order after the epoch interpretation fails.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp normalizes the event-reported time. Input may be a numeric
// UNIX epoch (fractional seconds allowed, also as a string) or an ISO-8601
// datetime string. The epoch reading is tried first; anything that parses
// neither way is a validation failure surfaced by the pipeline.
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case float64:
		return epochToTime(t), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case string:
		if secs, err := strconv.ParseFloat(t, 64); err == nil {
			return epochToTime(secs), nil
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("timestamp %q is neither an epoch nor an ISO-8601 datetime", t)
	}
	return time.Time{}, fmt.Errorf("timestamp has unsupported type %T", v)
}

func epochToTime(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
}
