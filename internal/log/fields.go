package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldUserID        = "user_id"
	FieldRequisitionID = "requisition_id"
	FieldAgreementID   = "agreement_id"
	FieldInstitutionID = "institution_id"
	FieldAccountID     = "account_id"
	FieldLinkStatus    = "link_status"
	FieldTxKey         = "tx_key"
	FieldImported      = "imported"
	FieldInserted      = "inserted"
	FieldUpdated       = "updated"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentAuth        = "auth"
	ComponentRateLimit   = "rate_limit"
	ComponentLink        = "link"
	ComponentImport      = "import"
	ComponentTransaction = "transaction"
	ComponentCategory    = "category"
	ComponentGateway     = "gateway"
	ComponentStorage     = "storage"
	ComponentBackend     = "backend"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
)

// Operations defines standard operation names
const (
	OpStartLink    = "start_link"
	OpCompleteLink = "complete_link"
	OpRefreshLink  = "refresh_link"
	OpImport       = "import"
	OpCreate       = "create"
	OpRead         = "read"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpList         = "list"
	OpSeed         = "seed"
	OpShutdown     = "shutdown"
	OpStartup      = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeGateway       = "gateway_error"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	if requestID != "" {
		f[FieldRequestID] = requestID
	}
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithUser adds the acting user
func (f LogFields) WithUser(userID string) LogFields {
	f[FieldUserID] = userID
	return f
}

// WithLink adds bank link identifiers. Empty values are left out.
func (f LogFields) WithLink(requisitionID, agreementID, status string) LogFields {
	if requisitionID != "" {
		f[FieldRequisitionID] = requisitionID
	}
	if agreementID != "" {
		f[FieldAgreementID] = agreementID
	}
	if status != "" {
		f[FieldLinkStatus] = status
	}
	return f
}

// WithImport adds import counters
func (f LogFields) WithImport(imported, inserted, updated int) LogFields {
	f[FieldImported] = imported
	f[FieldInserted] = inserted
	f[FieldUpdated] = updated
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if query != "" {
		f[FieldQuery] = query
	}
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
