package mqttingest

import "testing"

func TestParseTopic(t *testing.T) {
	cases := []struct {
		topic      string
		wantSensor string
		wantKey    string
		wantOK     bool
	}{
		{"/api/sensors/s1", "s1", "", true},
		{"/api/sensors/s1/123e4567-e89b-12d3-a456-426614174000", "s1", "123e4567-e89b-12d3-a456-426614174000", true},
		{"/api/sensors/s1/not-a-valid-key-but-36-chars-long!!!", "s1", "", true},
		{"/api/sensors/s1/123e4567-e89b-12d3-a456-426614174000/extra/segments", "s1", "123e4567-e89b-12d3-a456-426614174000", true},
		{"/api/other", "", "", false},
		{"/api/sensors/", "", "", false},
	}

	for _, tc := range cases {
		sensorID, apiKey, ok := parseTopic(tc.topic)
		if ok != tc.wantOK {
			t.Fatalf("topic %q: ok = %v, want %v", tc.topic, ok, tc.wantOK)
		}
		if sensorID != tc.wantSensor {
			t.Fatalf("topic %q: sensorID = %q, want %q", tc.topic, sensorID, tc.wantSensor)
		}
		gotKey := ""
		if apiKey != nil {
			gotKey = *apiKey
		}
		if gotKey != tc.wantKey {
			t.Fatalf("topic %q: apiKey = %q, want %q", tc.topic, gotKey, tc.wantKey)
		}
	}
}
