package eventlog

import "testing"

func TestPathFilter(t *testing.T) {
	id := "123e4567-e89b-12d3-a456-426614174000" // 36 chars
	cases := []struct {
		path string
		want bool
	}{
		{"/api/sensors/" + id + "/data/ingest", true},
		{"/api/sensors/" + id + "/data/delete", true},
		{"/api/sensors/" + id, true},
		{"/api/sensors/" + id + "/" + id, true},
		{"/api/sensors/" + id + "/data/load", false},
		{"/api/auth/login", false},
		{"/api/sensors/too-short", false},
	}

	for _, tc := range cases {
		got := pathFilter.MatchString(tc.path)
		if got != tc.want {
			t.Errorf("pathFilter.MatchString(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestSensorIDPattern(t *testing.T) {
	id := "123e4567-e89b-12d3-a456-426614174000"
	m := sensorIDPattern.FindStringSubmatch("/api/sensors/" + id + "/data/ingest")
	if len(m) != 2 || m[1] != id {
		t.Fatalf("sensorIDPattern match = %v, want sensor id %q", m, id)
	}

	if m := sensorIDPattern.FindStringSubmatch("/api/auth/login"); m != nil {
		t.Fatalf("sensorIDPattern should not match /api/auth/login, got %v", m)
	}
}
