package store

import "time"

// ValueType is a column's declared scalar type.
type ValueType string

const (
	ValueTypeInt     ValueType = "INT"
	ValueTypeFloat   ValueType = "FLOAT"
	ValueTypeString  ValueType = "STRING"
	ValueTypeUnknown ValueType = "UNKNOWN"
)

// IngestMode controls how a column combines a new value with the
// previous row's value.
type IngestMode string

const (
	IngestModeLiteral     IngestMode = "LITERAL"
	IngestModeIncremental IngestMode = "INCREMENTAL"
)

// ApiKeyOperation is the single operation an API key authorises.
type ApiKeyOperation string

const (
	ApiKeyInfo  ApiKeyOperation = "INFO"
	ApiKeyRead  ApiKeyOperation = "READ"
	ApiKeyWrite ApiKeyOperation = "WRITE"
)

// Built-in system role names.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
	RoleGuest = "GUEST"
	RoleRoot  = "ROOT"
)

// Column describes one declared column of a sensor's backing table.
type Column struct {
	Name       string
	ValueType  ValueType
	Unit       string
	IngestMode IngestMode
}

// Sensor is a sensor's metadata row, independent of its backing table.
type Sensor struct {
	ID        string
	OwnerID   *string
	Name      string
	Lat       *float64
	Lon       *float64
	CreatedAt time.Time
	Columns   []Column
}

// Role is a system or custom role that permission rows and user
// bindings reference by id.
type Role struct {
	ID   string
	Name string
}

// User is an account row; OIDC identities and role bindings are
// queried separately.
type User struct {
	ID           string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// SensorPermission is one `(sensor, role)` permission row; bits are
// OR-ed across every row that applies to a caller.
type SensorPermission struct {
	SensorID   string
	RoleID     string
	AllowInfo  bool
	AllowRead  bool
	AllowWrite bool
}

// ApiKey authorises a single operation on a single sensor without a
// session token.
type ApiKey struct {
	ID        string
	SensorID  string
	UserID    string
	Operation ApiKeyOperation
	Name      string
	CreatedAt time.Time
}

// DataTransformer is a content-addressed script body: updating one
// allocates a new id rather than mutating the row in place.
type DataTransformer struct {
	ID        string
	Name      string
	Script    string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventHandler describes a webhook dispatched by the outbound engine.
type EventHandler struct {
	ID     string
	Name   string
	Filter string
	URL    string
	Method string
}

// OutboundRoute is one `(handler, optional transformer)` entry in a
// sensor's outbound data chain.
type OutboundRoute struct {
	ID            string
	SensorID      string
	TransformerID *string
	HandlerID     string
}

// LogEvent is a single instrumented request, persisted and relayed
// over the sensor's (or the general) NOTIFY channel.
type LogEvent struct {
	OtelContext string          `json:"otel_context"`
	WallTime    time.Time       `json:"wall_time"`
	Duration    time.Duration   `json:"duration_ns"`
	Transport   string          `json:"transport"`
	Path        string          `json:"path"`
	Status      int             `json:"status"`
	Payload     *string         `json:"payload,omitempty"`
	SensorID    *string         `json:"sensor_id,omitempty"`
}
