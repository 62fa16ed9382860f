package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindCompile, "missing value for variable IP")
	if err.Error() != "missing value for variable IP" {
		t.Errorf("unexpected message %q", err.Error())
	}

	wrapped := Wrap(err, KindExecution, "some rules could not be created")
	if wrapped.Error() != "some rules could not be created: missing value for variable IP" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}

	if Wrap(nil, KindInternal, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindToolUnavailable, "ebtables missing")
	if GetKind(err) != KindToolUnavailable {
		t.Errorf("expected KindToolUnavailable, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindExecution, "apply failed")
	if GetKind(wrapped) != KindExecution {
		t.Errorf("expected KindExecution, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown for a plain error")
	}
}

func TestHasKind(t *testing.T) {
	inner := New(KindCompile, "bad mask")
	outer := Wrapf(inner, KindExecution, "interface %s", "vnet0")

	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"outer kind", outer, KindExecution, true},
		{"inner kind", outer, KindCompile, true},
		{"absent kind", outer, KindEnvironment, false},
		{"plain error", fmt.Errorf("plain"), KindCompile, false},
		{"nil", nil, KindCompile, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasKind(tt.err, tt.kind); got != tt.want {
				t.Errorf("HasKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAttributes(t *testing.T) {
	err := New(KindExecution, "command failed")
	err = Attr(err, "command", "ebtables -t nat -N libvirt-J-vnet0")
	err = Attr(err, "status", 1)

	attrs := GetAttributes(err)
	if attrs["command"] != "ebtables -t nat -N libvirt-J-vnet0" {
		t.Errorf("expected command attribute, got %v", attrs["command"])
	}
	if attrs["status"] != 1 {
		t.Errorf("expected status 1, got %v", attrs["status"])
	}

	wrapped := Wrap(err, KindExecution, "rollback")
	wrapped = Attr(wrapped, "interface", "vnet0")

	allAttrs := GetAttributes(wrapped)
	if allAttrs["command"] == nil || allAttrs["interface"] != "vnet0" {
		t.Errorf("missing attributes: %v", allAttrs)
	}

	plain := Attr(errors.New("boom"), "k", "v")
	if GetKind(plain) != KindInternal {
		t.Errorf("plain errors should be wrapped as internal")
	}
}

func TestKindString(t *testing.T) {
	if KindEnvironment.String() != "environment" {
		t.Errorf("unexpected %q", KindEnvironment.String())
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("unexpected %q", Kind(99).String())
	}
}
