package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Relationship pair (matches coordinator and reconciler keys)
	FieldActorID  = "actor_id"
	FieldTargetID = "target_id"
	FieldUserID   = "user_id"

	// Service
	FieldService = "service"
)
