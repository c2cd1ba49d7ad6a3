package schema

import "errors"

var (
	// ErrPatternCompile indicates a trigger pattern failed to compile.
	ErrPatternCompile = errors.New("pattern does not compile")
	// ErrDuplicateTrigger indicates the owner already registered a trigger with that name.
	ErrDuplicateTrigger = errors.New("trigger already registered")
	// ErrTriggerNotFound indicates no trigger exists for the id or owner+name.
	ErrTriggerNotFound = errors.New("trigger not found")
	// ErrHandlersRemain indicates a trigger still has bus handlers and removal was not forced.
	ErrHandlersRemain = errors.New("handlers still registered")
	// ErrNilHandler indicates a registration without a handler function.
	ErrNilHandler = errors.New("nil handler")
	// ErrClientNotFound indicates the client id is not attached.
	ErrClientNotFound = errors.New("client not found")
	// ErrDuplicateClient indicates the client id is already attached.
	ErrDuplicateClient = errors.New("client already attached")
	// ErrEmptyName indicates a required name was empty.
	ErrEmptyName = errors.New("empty name")
	// ErrRecordSealed indicates a mutation after the record was serialized.
	ErrRecordSealed = errors.New("record already serialized")
	// ErrUpstreamClosed indicates the game server connection is gone.
	ErrUpstreamClosed = errors.New("upstream connection closed")
)
