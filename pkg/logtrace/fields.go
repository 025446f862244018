package logtrace

// Fields is a type alias for structured log fields
type Fields map[string]interface{}

// WithFields returns a copy of base with extra fields merged in.
func WithFields(base Fields, extra Fields) Fields {
	fields := Fields{}
	for key, value := range base {
		fields[key] = value
	}
	for key, value := range extra {
		fields[key] = value
	}
	return fields
}

const (
	FieldCorrelationID = "correlation_id"
	FieldModule        = "module"
	FieldMethod        = "method"
	FieldError         = "error"
	FieldStatus        = "status"
	FieldRetry         = "retry"
	FieldElectionID    = "election_id"
	FieldValidatorIdx  = "validator_index"
	FieldAdnl          = "adnl_addr"
	FieldWallet        = "wallet_addr"
	FieldPath          = "path"
	FieldCommand       = "command"
	FieldReasons       = "reasons"
	FieldDuration      = "duration"
	FieldVersion       = "version"
)
