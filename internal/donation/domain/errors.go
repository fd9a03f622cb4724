package domain

import "errors"

// Tagged errors let callers distinguish retry-worthy failures from terminal
// ones without matching on message text.
var (
	ErrAmountInvalid         = errors.New("amount_invalid")
	ErrAmountBelowMinimum    = errors.New("amount_below_minimum")
	ErrNotFound              = errors.New("not_found")
	ErrSchemaMissing         = errors.New("schema_missing")
	ErrTransientDB           = errors.New("transient_db_error")
	ErrUpstreamProvider      = errors.New("upstream_provider_error")
	ErrDuplicateEvent        = errors.New("duplicate_event")
	ErrProviderNotConfigured = errors.New("provider_not_configured")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrInvalidPayload        = errors.New("invalid_payload")
)
