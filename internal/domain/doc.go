// Package domain defines the core business types for the campaign dispatch engine.
//
// Types in this package are value objects with no database dependencies and no
// HTTP concerns. They are the shared language between the runner, the provider
// pool, the scheduler, and the repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
package domain
