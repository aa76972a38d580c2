package broker

import "strings"

const (
	notificationPrefix = "notifications/"
	statusPrefix       = "status/"

	// StatusWildcard matches every device's status topic.
	StatusWildcard = "status/+"
)

// NotificationTopic returns the per-device notification topic.
func NotificationTopic(deviceID string) string {
	return notificationPrefix + deviceID
}

// StatusTopic returns the per-device status topic.
func StatusTopic(deviceID string) string {
	return statusPrefix + deviceID
}

// ParseStatusTopic extracts the device id from a status topic. ok is false
// for topics outside the status namespace or with unexpected shape.
func ParseStatusTopic(topic string) (deviceID string, ok bool) {
	trimmed := strings.Trim(topic, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] != "status" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
