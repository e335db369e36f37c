// Package agent implements the domain specialists the brain dispatches
// queries to. Each agent decides locally whether a query concerns its
// domain, then retrieves a bounded set of records from its backing store.
package agent

import (
	"strings"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("agent")

// defaultRecordCap bounds how many raw records an agent fetches per query.
// Display surfaces cap further downstream.
const defaultRecordCap = 50

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
