// Package alert turns a queued notification into the text and push payload
// delivered on every channel. Everything here is pure.
package alert

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Channel names
const (
	ChannelPush     = "push"
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelTelegram = "telegram"
	ChannelAll      = "all"
)

// AllChannels is the delivery order used for every record.
var AllChannels = []string{ChannelPush, ChannelEmail, ChannelSMS, ChannelTelegram}

// AdminURL is where a push notification click lands.
const AdminURL = "/admin"

// Alert is the rendered form of a notification, identical for every channel
// except push, which carries PushPayload instead of Text.
type Alert struct {
	NotificationID string
	Type           string
	Subject        string
	Text           string
	PushPayload    []byte
}

// PushMessage is the JSON document the service worker receives.
type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Compose renders a notification type and its raw JSON payload.
//
// Text is "[type] <payload as compact JSON>", with "null" for a missing
// payload. The push body is the same compact JSON, or empty when absent.
func Compose(notificationType string, payload json.RawMessage) *Alert {
	body := compactJSON(payload)

	text := "null"
	if body != "" {
		text = body
	}

	subject := "Alert: " + notificationType
	push, _ := json.Marshal(PushMessage{
		Title: subject,
		Body:  body,
		URL:   AdminURL,
	})

	return &Alert{
		Type:        notificationType,
		Subject:     subject,
		Text:        "[" + notificationType + "] " + text,
		PushPayload: push,
	}
}

// compactJSON strips insignificant whitespace. Payloads that are not valid
// JSON are passed through trimmed; JSON null counts as absent.
func compactJSON(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

// ParseChannels splits a comma-separated channel list. Names are trimmed and
// lower-cased, empties dropped, duplicates collapsed. An empty list or "all"
// expands to every channel. The result is always in delivery order; unknown
// names are returned separately so the caller can log them.
func ParseChannels(channel string) (channels []string, unknown []string) {
	requested := make(map[string]bool)
	for _, part := range strings.Split(channel, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		switch {
		case name == "":
			continue
		case name == ChannelAll:
			for _, c := range AllChannels {
				requested[c] = true
			}
		case isKnown(name):
			requested[name] = true
		default:
			unknown = append(unknown, name)
		}
	}

	if len(requested) == 0 && len(unknown) == 0 {
		return append([]string(nil), AllChannels...), nil
	}

	for _, c := range AllChannels {
		if requested[c] {
			channels = append(channels, c)
		}
	}
	return channels, unknown
}

func isKnown(name string) bool {
	for _, c := range AllChannels {
		if c == name {
			return true
		}
	}
	return false
}
