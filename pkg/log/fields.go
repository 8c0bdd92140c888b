package log

// Shared field names so relay log lines stay greppable across packages.
const (
	FieldService  = "service"
	FieldRoomID   = "room_id"
	FieldClientID = "client_id"
	FieldUserID   = "user_id"
	FieldUsername = "username"
	FieldEvent    = "event"
	FieldCount    = "count"

	// Log type (for audit entries)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
