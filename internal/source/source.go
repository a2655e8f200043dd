package source

import "context"

// Source abstracts one news provider. Implementations guarantee:
//   - at most limit records are returned
//   - no record has an empty title or empty canonical link
//   - with a keyword query, every record matched the keyword filter;
//     non-matching items are dropped, not errored
//
// A returned error is always recoverable from the caller's point of view:
// the orchestrator logs it and continues with whatever the other source
// produced.
type Source interface {
	Name() string
	Tag() Tag
	Fetch(ctx context.Context, q Query, limit int) ([]Record, error)
}
