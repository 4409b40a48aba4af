// Package knowledge retrieves signage reference passages for grounding
// oracle replies. Passages are embedded once at ingest time and searched by
// cosine distance per chat turn.
package knowledge

import (
	"context"
)

// Retriever finds the passages most relevant to a customer message.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]string, error)
}
