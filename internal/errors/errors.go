// internal/errors/errors.go
package errors

import "fmt"

// ErrInvalidActionRef is returned when an action reference cannot be
// parsed into owner/repo[@version] form.
type ErrInvalidActionRef struct {
	Ref string
}

func (e *ErrInvalidActionRef) Error() string {
	return fmt.Sprintf("invalid action reference: %q, expected 'owner/repo[@version]'", e.Ref)
}

// ErrInvalidRepoFormat is returned when a repository string is not in
// 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// ErrStageFailed wraps a failure from one stage of a scan run so the
// orchestrator can report which stage gave up without aborting a batch.
type ErrStageFailed struct {
	Stage string
	Err   error
}

func (e *ErrStageFailed) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *ErrStageFailed) Unwrap() error { return e.Err }
