package telegram

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Forbidden: bot was blocked by the user"), true},
		{errors.New("Forbidden: user is deactivated"), true},
		{errors.New("Bad Request: chat not found"), true},
		{errors.New("Too Many Requests: retry after 5"), false},
		{errors.New("connection reset by peer"), false},
		{fmt.Errorf("telegram: sending to 1: %w", errors.New("Forbidden: bot was blocked by the user")), true},
	}
	for _, tc := range cases {
		if got := IsPermanent(tc.err); got != tc.want {
			t.Errorf("IsPermanent(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
