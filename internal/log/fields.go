package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldSeq        = "seq"
	FieldLatestSeq  = "latest_seq"
	FieldCategory   = "category"
	FieldTimePeriod = "time_period"
	FieldCurrency   = "currency"
	FieldCategories = "categories"
	FieldYears      = "years"
	FieldRows       = "rows"
	FieldFilename   = "filename"
	FieldSession    = "session"
	FieldRoutingKey = "routing_key"
	FieldSheetsRef  = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentFilters   = "filters"
	ComponentFetch     = "fetch"
	ComponentDrilldown = "drilldown"
	ComponentDashboard = "dashboard"
	ComponentUpstream  = "upstream"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentStream    = "stream"
	ComponentWorker    = "worker"
)

// Operations defines standard operation names
const (
	OpUpload   = "upload"
	OpRefetch  = "refetch"
	OpSelect   = "select"
	OpClear    = "clear"
	OpUpdate   = "update"
	OpRestore  = "restore"
	OpExport   = "export"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithSeq records a request's sequence number against the latest issued.
func (f LogFields) WithSeq(seq, latest uint64) LogFields {
	f[FieldSeq] = seq
	f[FieldLatestSeq] = latest
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
