package modification

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrSlotNotFound     = errors.New("slot not found")
	ErrLimitReached     = errors.New("install limit reached")
	ErrIncompatible     = errors.New("incompatible components")
	ErrInstallFailed    = errors.New("install failed")
	ErrMailboxFull      = errors.New("mailbox full")
	ErrClosed           = errors.New("manager closed")
	// ErrUnavailable means the entity's record could not be read; nothing
	// was cached or changed.
	ErrUnavailable = errors.New("entity record unavailable")
	// ErrNotPersisted means a change was applied in memory but its record
	// write failed; the next Flush retries it.
	ErrNotPersisted = errors.New("change not persisted")
)

// Code classifies a rejected grant.
type Code string

const (
	CodeTemplateNotFound Code = "template_not_found"
	CodeLimitReached     Code = "limit_reached"
	CodeIncompatible     Code = "incompatible"
	CodeInstallFailed    Code = "install_failed"
	CodeUnavailable      Code = "unavailable"
)

var codeErrors = map[Code]error{
	CodeTemplateNotFound: ErrTemplateNotFound,
	CodeLimitReached:     ErrLimitReached,
	CodeIncompatible:     ErrIncompatible,
	CodeInstallFailed:    ErrInstallFailed,
	CodeUnavailable:      ErrUnavailable,
}

// GrantError explains why a grant was rejected. It matches the sentinel
// for its code with errors.Is.
type GrantError struct {
	Code        Code
	Entity      entity.ID
	TemplateID  string
	Diagnostics []string
	Cause       error
}

func (e *GrantError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "grant %s to %s: %v", e.TemplateID, e.Entity, codeErrors[e.Code])
	if len(e.Diagnostics) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Diagnostics, "; "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *GrantError) Unwrap() []error {
	errs := []error{codeErrors[e.Code]}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
