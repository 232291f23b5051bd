package mqttingest

import (
	"strings"

	"github.com/google/uuid"
)

const topicPrefix = "/api/sensors/"

// parseTopic extracts (sensor_id, optional api_key) from an inbound
// publish topic. Only the sensor id and the first segment after it
// are meaningful — an api_key is recognised by being exactly 36
// characters and parsing as a valid id; everything past it is
// silently discarded.
func parseTopic(topic string) (sensorID string, apiKey *string, ok bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return "", nil, false
	}
	rest := strings.TrimPrefix(topic, topicPrefix)
	if rest == "" {
		return "", nil, false
	}

	segments := strings.Split(rest, "/")
	sensorID = segments[0]
	if sensorID == "" {
		return "", nil, false
	}

	if len(segments) > 1 && len(segments[1]) == 36 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			key := segments[1]
			apiKey = &key
		}
	}
	return sensorID, apiKey, true
}
