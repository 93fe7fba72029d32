package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleState is shared by every handler derived through WithAttrs/WithGroup
// so writes stay serialized and the repeated-field cache spans derived loggers.
type consoleState struct {
	mu        sync.Mutex
	w         io.Writer
	level     *slog.LevelVar
	addSource bool
	// lastSeen remembers the last rendered value per label for each session
	// (or component) so INFO lines only show what changed.
	lastSeen map[string]map[string]string
}

type consoleHandler struct {
	state  *consoleState
	attrs  []slog.Attr
	groups []string
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{state: &consoleState{
		w:         w,
		level:     lvl,
		addSource: addSource,
		lastSeen:  make(map[string]map[string]string),
	}}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.state.level.Level()
}

// header holds the fields promoted out of the attribute list into the first line.
type header struct {
	component string
	sessionID string
	stage     string
}

func (hd header) subject() string {
	switch {
	case hd.sessionID != "" && hd.stage != "":
		return "Session " + hd.sessionID + " (" + hd.stage + ")"
	case hd.sessionID != "":
		return "Session " + hd.sessionID
	default:
		return hd.stage
	}
}

func (hd header) cacheKey() string {
	if hd.sessionID != "" {
		return "session:" + hd.sessionID
	}
	return hd.component
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	pairs := make([]kv, 0, len(h.attrs)+record.NumAttrs())
	flattenAttrs(&pairs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&pairs, h.groups, attr)
		return true
	})
	pairs = dedupeKVsByKey(pairs)

	var hd header
	body := make([]kv, 0, len(pairs))
	for _, p := range pairs {
		switch p.key {
		case FieldComponent:
			hd.component = strings.TrimSpace(attrString(p.value))
			continue
		case FieldSessionID:
			hd.sessionID = strings.TrimSpace(attrString(p.value))
		case FieldStage:
			hd.stage = strings.TrimSpace(attrString(p.value))
		}
		body = append(body, p)
	}

	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}

	var b strings.Builder
	b.WriteString(formatTimestamp(ts))
	b.WriteByte(' ')
	b.WriteString(levelLabel(record.Level))
	if hd.component != "" {
		b.WriteString(" [" + hd.component + "]")
	}
	if subject := hd.subject(); subject != "" {
		b.WriteString(" " + subject)
	}
	b.WriteString(" - " + msg)
	if src := record.Source(); h.state.addSource && src != nil {
		b.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
	}
	b.WriteByte('\n')

	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	if record.Level < slog.LevelInfo {
		for _, p := range body {
			b.WriteString("    " + p.key + ": " + formatValue(p.value) + "\n")
		}
	} else {
		fields, hidden := selectInfoFields(body, infoAttrLimit)
		fields = h.state.dropUnchanged(hd.cacheKey(), fields, record.Level)
		for _, f := range fields {
			b.WriteString("    - " + f.label + ": " + f.value + "\n")
		}
		if hidden > 0 {
			noun := "fields"
			if hidden == 1 {
				noun = "field"
			}
			b.WriteString("    + " + strconv.Itoa(hidden) + " more " + noun + " hidden\n")
		}
	}
	_, err := io.WriteString(h.state.w, b.String())
	return err
}

// dropUnchanged removes INFO fields whose value matches the last one rendered
// under key. WARN and ERROR lines always print in full but still refresh the cache.
func (s *consoleState) dropUnchanged(key string, fields []infoField, level slog.Level) []infoField {
	if key == "" || len(fields) == 0 {
		return fields
	}
	seen := s.lastSeen[key]
	if seen == nil {
		seen = make(map[string]string)
		s.lastSeen[key] = seen
	}
	out := fields[:0:0]
	for _, f := range fields {
		prev, ok := seen[f.label]
		seen[f.label] = f.value
		if level <= slog.LevelInfo && ok && prev == f.value {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &consoleHandler{
		state:  h.state,
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &consoleHandler{
		state:  h.state,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

type kv struct {
	key   string
	value slog.Value
}

// dedupeKVsByKey keeps the first position of each key with its last value.
func dedupeKVsByKey(pairs []kv) []kv {
	if len(pairs) < 2 {
		return pairs
	}
	index := make(map[string]int, len(pairs))
	out := make([]kv, 0, len(pairs))
	for _, p := range pairs {
		if p.key == "" {
			continue
		}
		if i, ok := index[p.key]; ok {
			out[i].value = p.value
			continue
		}
		index[p.key] = len(out)
		out = append(out, p)
	}
	return out
}

func flattenAttrs(dst *[]kv, prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, prefix, attr)
	}
}

// flattenAttr expands groups into dotted keys ("group.key").
func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = append(append([]string(nil), prefix...), attr.Key)
		}
		flattenAttrs(dst, next, attr.Value.Group())
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(append(append([]string(nil), prefix...), attr.Key), ".")
		key = strings.TrimSuffix(key, ".")
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
