package schema

import "time"

// DefaultHistoryMax bounds the recent-record archive ring.
const DefaultHistoryMax = 200

// DefaultPreamble marks internally generated output lines.
const DefaultPreamble = "#MG"

// DefaultHandlerWarn is the soft budget before a slow handler is logged.
const DefaultHandlerWarn = 250 * time.Millisecond

// ServiceConfig controls core pipeline behavior.
type ServiceConfig struct {
	// Preamble is prepended to internal plain-output lines.
	Preamble string
	// ColorizeWith is an optional markup color directive wrapped around
	// every outgoing line, e.g. "@w". Empty disables the colorize step.
	ColorizeWith string
	// HistoryMax bounds the recent-record ring.
	HistoryMax int
	// HandlerWarn is the soft time budget per handler invocation. Handlers
	// are never cancelled; exceeding the budget only logs a warning.
	HandlerWarn time.Duration
}
