package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMessage_HidesWrappedDetail(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("open /home/u/.config/state.vscdb: %w: database is locked (5) (SQLITE_BUSY)", ErrStoreAccess), ErrStoreAccess.Error()},
		{fmt.Errorf("load account a@x.io: %w", ErrNotFound), ErrNotFound.Error()},
		{fmt.Errorf("refresh: %w: 400 invalid_grant", ErrUpstream), ErrUpstream.Error()},
		{errors.New("rename /tmp/x: permission denied"), InternalMessage},
		{nil, InternalMessage},
	}
	for _, c := range cases {
		if got := Message(c.err); got != c.want {
			t.Fatalf("Message(%v) = %q, want %q", c.err, got, c.want)
		}
	}
	if got := Message(cases[0].err); strings.Contains(got, "/home/u") || strings.Contains(got, "SQLITE") {
		t.Fatalf("detail leaked: %q", got)
	}
}

func TestPublic_PrefersSpecificSentinel(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("read: %w", errors.Join(ErrNoSession, ErrStoreAccess))
	if got := Public(err); got != ErrNoSession {
		t.Fatalf("Public = %v, want ErrNoSession", got)
	}
	if Public(errors.New("plain")) != nil {
		t.Fatalf("plain error must not map to a sentinel")
	}
}
