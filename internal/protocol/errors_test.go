package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrBadRequest,
		ErrNotFound,
		ErrNoPending,
		ErrUnknownState,
		ErrBadRotation,
		ErrBadCategory,
		ErrFormat,
		ErrLimit,
		ErrConflict,
		ErrUnavailable,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}
