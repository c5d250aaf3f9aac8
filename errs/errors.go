// Package errs defines the error taxonomy shared by every stage of the
// schema reconciliation pipeline: introspection, diffing, solving,
// rendering, and migration execution.
package errs

import "fmt"

// IntrospectionError wraps a catalog query or permission failure while
// reading the live schema from Postgres.
type IntrospectionError struct {
	Kind    string
	Context string
	Err     error
}

func (e *IntrospectionError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("introspection error (%s): %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("introspection error (%s): %v", e.Kind, e.Err)
}

func (e *IntrospectionError) Unwrap() error { return e.Err }

// PreconditionError reports that a change's preconditions do not hold on
// the virtual schema at the point the solver tried to apply it.
type PreconditionError struct {
	Change  string
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for %s: %s", e.Change, e.Missing)
}

// UnresolvableDependency reports that the solver's worklist stopped
// making progress and no rename-cycle rewrite could unblock it.
type UnresolvableDependency struct {
	Remaining []string
}

func (e *UnresolvableDependency) Error() string {
	return fmt.Sprintf("unresolvable dependency among %d remaining change(s): %v", len(e.Remaining), e.Remaining)
}

// VerificationFailure reports that the solver's simulated end state does
// not match the declared schema after applying the whole plan.
type VerificationFailure struct {
	Detail string
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verification failed: %s", e.Detail)
}

// RenderError reports that a change references an unrepresentable type
// or a name longer than 63 bytes with no safe truncation.
type RenderError struct {
	Change string
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("cannot render %s: %s", e.Change, e.Reason)
}

// ExecutionError wraps a Postgres error encountered while running a
// statement, carrying the SQLSTATE and the offending SQL for display.
type ExecutionError struct {
	SQLState string
	Message  string
	Detail   string
	Hint     string
	SQL      string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("execution error [%s]: %s", e.SQLState, e.Message)
	if e.Detail != "" {
		msg += "\nDetail: " + e.Detail
	}
	if e.Hint != "" {
		msg += "\nHint: " + e.Hint
	}
	if e.SQL != "" {
		msg += "\nSQL: " + e.SQL
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// StateError reports that the migration state table is missing required
// columns or contains a row whose version violates the version format.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("migration state error: %s", e.Reason)
}
