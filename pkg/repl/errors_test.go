package repl

import (
	"errors"
	"testing"
)

func TestNewErrorFormatting(t *testing.T) {
	err := NewError(CodeNotMaster, "not in primary state")
	if got, want := err.Error(), "NotMaster: not in primary state"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewErrorEmptyReason(t *testing.T) {
	err := NewError(CodeShutdownInProgress, "")
	if got, want := err.Error(), "ShutdownInProgress"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeInternalError, "flush failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("Wrap must chain the underlying error for errors.Is")
	}
}

func TestHasCode(t *testing.T) {
	err := NewError(CodeNamespaceExists, "db.coll")
	if !HasCode(err, CodeNamespaceExists) {
		t.Fatal("HasCode must match the wrapped code")
	}
	if HasCode(err, CodeNamespaceNotFound) {
		t.Fatal("HasCode must not match a different code")
	}
	if HasCode(errors.New("plain"), CodeNamespaceExists) {
		t.Fatal("HasCode must return false for a non-*Error")
	}
}

func TestHasCodeThroughWrap(t *testing.T) {
	inner := NewError(CodeNodeNotFound, "member 3")
	outer := Wrap(CodeInternalError, "lookup failed", inner)
	if HasCode(outer, CodeNodeNotFound) {
		t.Fatal("HasCode should only match the outermost *Error's code, not a nested one's")
	}
	if !HasCode(outer, CodeInternalError) {
		t.Fatal("HasCode must match the outer error's own code")
	}
}
