package logging

import "log/slog"

// Field names shared by all services so log queries work across processes.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"

	FieldTopic       = "topic"
	FieldGroup       = "group"
	FieldConsumer    = "consumer"
	FieldMessageID   = "message_id"
	FieldEventID     = "event_id"
	FieldEventType   = "event_type"
	FieldTaskID      = "task_id"
	FieldMaterialReq = "material_request_id"
	FieldLocalID     = "local_id"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error logs as empty.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Topic returns a slog attribute for a stream topic.
func Topic(name string) slog.Attr {
	return slog.String(FieldTopic, name)
}

// Group returns a slog attribute for a consumer group.
func Group(name string) slog.Attr {
	return slog.String(FieldGroup, name)
}

// Consumer returns a slog attribute for a consumer name within a group.
func Consumer(name string) slog.Attr {
	return slog.String(FieldConsumer, name)
}

// MessageID returns a slog attribute for a stream entry ID.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// EventID returns a slog attribute for an envelope event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for an envelope event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// TaskID returns a slog attribute for a logistics task ID.
func TaskID(id string) slog.Attr {
	return slog.String(FieldTaskID, id)
}

// MaterialRequestID returns a slog attribute for a materials request ID.
func MaterialRequestID(id string) slog.Attr {
	return slog.String(FieldMaterialReq, id)
}

// LocalID returns a slog attribute for an offline capture record ID.
func LocalID(id string) slog.Attr {
	return slog.String(FieldLocalID, id)
}
