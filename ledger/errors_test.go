package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrSelfTransfer, "self_transfer"},
		{ErrInvalidAmount, "invalid_amount"},
		{NotFound("x"), "account_not_found"},
		{fmt.Errorf("lookup: %w", NotFound("x")), "account_not_found"},
		{ErrInsufficientFunds, "insufficient_funds"},
		{Unavailable("get account", errors.New("connection refused")), "unavailable"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("commit transfer", cause)
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("err=%v should wrap both ErrUnavailable and the cause", err)
	}
	if IsRejection(err) {
		t.Fatal("storage faults are not rejections")
	}
	if !IsRejection(ErrInsufficientFunds) {
		t.Fatal("insufficient funds is a rejection")
	}
}
