// Package kiqlog is a small structured logger shared by every kiq
// component: one line per event, tagged with the emitting component,
// either as plain text or as a JSON object when KIQ_LOG_FORMAT=json.
package kiqlog

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const envLogFormat = "KIQ_LOG_FORMAT"

var (
	logFormatOnce sync.Once
	logAsJSON     bool
)

func jsonEnabled() bool {
	logFormatOnce.Do(func() {
		logAsJSON = strings.EqualFold(strings.TrimSpace(os.Getenv(envLogFormat)), "json")
	})
	return logAsJSON
}

// Info logs a message with key/value fields under the given component
// tag.
func Info(component, msg string, kv ...interface{}) {
	emit("INFO", component, msg, kv...)
}

// Error logs an error-level message with key/value fields.
func Error(component, msg string, kv ...interface{}) {
	emit("ERROR", component, msg, kv...)
}

func emit(level, component, msg string, kv ...interface{}) {
	if jsonEnabled() {
		log.Print(formatJSON(level, component, msg, kv...))
		return
	}
	prefix := "[" + strings.ToUpper(component) + "]"
	if level == "ERROR" {
		log.Printf("%s ERROR %s%s", prefix, msg, formatFields(kv...))
		return
	}
	log.Printf("%s %s%s", prefix, msg, formatFields(kv...))
}

func formatFields(kv ...interface{}) string {
	if len(kv) == 0 {
		return ""
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	var b strings.Builder
	b.WriteString(" ")
	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.TrimSpace(toString(kv[i])))
		b.WriteString("=")
		b.WriteString(toString(kv[i+1]))
	}
	return b.String()
}

func formatJSON(level, component, msg string, kv ...interface{}) string {
	payload := map[string]interface{}{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"component": component,
		"msg":       msg,
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	for i := 0; i < len(kv); i += 2 {
		key := toString(kv[i])
		payload[key] = kv[i+1]
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return msg
	}
	return string(data)
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(jsonScalar(t), "\n", " "), "\t", " "))
	}
}

func jsonScalar(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	s := string(b)
	return strings.Trim(s, `"`)
}
