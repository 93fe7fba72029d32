package logging

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type infoField struct {
	label string
	value string
}

const infoAttrLimit = 10

var infoHighlightKeys = []string{
	FieldAlert,
	FieldEventType,
	FieldFailureReason,
	FieldRetryCount,
	FieldQueuePosition,
	FieldProgressPercent,
	"score",
	"source_kind",
	"download_status",
	"analysis_status",
	"error_message",
	FieldErrorHint,
	FieldImpact,
	"error",
	"backoff",
	"attempt",
	"queued",
	"active",
	"resumed",
	"size_bytes",
	"downloaded",
	"downloaded_bytes",
	"elapsed",
	"exit_code",
	"count",
}

// selectInfoFields returns formatted info-level fields and a count of hidden entries.
// limit=0 means no limit.
func selectInfoFields(attrs []kv, limit int) ([]infoField, int) {
	if len(attrs) == 0 {
		return nil, 0
	}
	if limit < 0 {
		limit = 0
	}
	used := make([]bool, len(attrs))
	result := make([]infoField, 0, infoAttrLimit)
	hidden := 0

	add := func(idx int) {
		attr := attrs[idx]
		if isDebugOnlyKey(attr.key) {
			hidden++
			return
		}
		val := formatValueForKey(attr.key, attr.value)
		if shouldHideInfoValue(attr.key, val) {
			hidden++
			return
		}
		if limit > 0 && len(result) >= limit {
			hidden++
			return
		}
		result = append(result, infoField{label: displayLabel(attr.key), value: val})
	}

	for _, key := range infoHighlightKeys {
		for idx, attr := range attrs {
			if used[idx] || attr.key != key {
				continue
			}
			used[idx] = true
			add(idx)
			break
		}
	}

	for idx, attr := range attrs {
		if used[idx] {
			continue
		}
		used[idx] = true
		if skipInfoKey(attr.key) {
			continue
		}
		add(idx)
	}

	return result, hidden
}

// formatValueForKey applies smart formatting based on the key name.
func formatValueForKey(key string, v slog.Value) string {
	v = v.Resolve()

	if isByteSizeKey(key) {
		switch v.Kind() {
		case slog.KindInt64:
			if v.Int64() >= 0 {
				return humanize.Bytes(uint64(v.Int64()))
			}
		case slog.KindUint64:
			return humanize.Bytes(v.Uint64())
		}
	}

	if isDurationKey(key) && v.Kind() == slog.KindDuration {
		return formatDurationHuman(v.Duration())
	}

	if isPercentKey(key) {
		switch v.Kind() {
		case slog.KindFloat64:
			return strconv.FormatFloat(v.Float64(), 'f', 1, 64) + "%"
		case slog.KindInt64:
			return strconv.FormatInt(v.Int64(), 10) + "%"
		}
	}

	if v.Kind() == slog.KindBool {
		if v.Bool() {
			return "yes"
		}
		return "no"
	}

	value := formatValue(v)
	if key == "error" || key == "error_message" {
		value = truncateErrorValue(value)
	}
	return value
}

func isByteSizeKey(key string) bool {
	return strings.HasSuffix(key, "_bytes") || key == "size"
}

func isDurationKey(key string) bool {
	return strings.HasSuffix(key, "_duration") ||
		strings.HasSuffix(key, "_elapsed") ||
		key == "elapsed" ||
		key == "duration" ||
		key == "backoff" ||
		key == "timeout"
}

func isPercentKey(key string) bool {
	return strings.HasSuffix(key, "_percent")
}

func formatDurationHuman(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func truncateErrorValue(value string) string {
	value = strings.TrimSpace(value)
	const maxLen = 200
	if len(value) > maxLen {
		value = value[:maxLen] + "..."
	}
	return value
}

func skipInfoKey(key string) bool {
	return key == "" || key == FieldSessionID || key == FieldStage || key == FieldComponent
}

// debugOnlyKeys never show on INFO lines; paths and ids are noise there.
var debugOnlyKeys = map[string]bool{
	"":                 true,
	FieldCorrelationID: true,
	"generation":       true,
	"priority":         true,
	"args":             true,
}

func isDebugOnlyKey(key string) bool {
	return debugOnlyKeys[key] ||
		strings.Contains(key, "correlation") ||
		strings.HasSuffix(key, "_path") ||
		strings.HasSuffix(key, "_dir")
}

func shouldHideInfoValue(key, value string) bool {
	switch key {
	case "error_message", "error", FieldErrorHint, FieldImpact:
		return false
	}
	return len(value) > 120
}

var fieldLabels = map[string]string{
	FieldAlert:           "Alert",
	FieldEventType:       "Event",
	FieldErrorHint:       "Hint",
	FieldImpact:          "Impact",
	FieldFailureReason:   "Reason",
	FieldRetryCount:      "Retries",
	FieldQueuePosition:   "Position",
	FieldProgressPercent: "Progress",
	"size_bytes":         "Size",
	"downloaded_bytes":   "Size",
	"source_kind":        "Source",
}

// displayLabel maps a snake_case key to a console label ("exit_code" -> "Exit Code").
func displayLabel(key string) string {
	if label, ok := fieldLabels[key]; ok {
		return label
	}
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' })
	if len(words) == 0 {
		return key
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}
