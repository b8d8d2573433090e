package chatwire

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	scoped := internal("GATEWAY", "something broke")

	if got := scoped.Error(); got != "GATEWAY: something broke (code: 500)" {
		t.Errorf("unexpected message: %s", got)
	}

	bare := &Error{Message: "something broke", Code: StatusBadRequest}

	if got := bare.Error(); got != "something broke (code: 400)" {
		t.Errorf("unexpected message: %s", got)
	}
}

func TestErrorHelpers(t *testing.T) {
	testCases := []struct {
		name      string
		err       *Error
		code      int
		temporary bool
	}{
		{"badRequest", badRequest("s", "m"), StatusBadRequest, false},
		{"notFound", notFound("s", "m"), StatusNotFound, false},
		{"conflict", conflict("s", "m"), StatusConflict, false},
		{"internal", internal("s", "m"), StatusInternalServerError, false},
		{"timeout", timeout("s", "m"), StatusGatewayTimeout, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code || tc.err.Temporary != tc.temporary {
				t.Errorf("unexpected error: %+v", tc.err)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	t.Run("nil in, nil out", func(t *testing.T) {
		if wrap(nil, "context") != nil {
			t.Error("expected nil")
		}
		if wrapF(nil, "context %d", 1) != nil {
			t.Error("expected nil")
		}
	})

	t.Run("plain errors become internal", func(t *testing.T) {
		cause := errors.New("boom")

		wrapped := wrapF(cause, "doing thing %s", "x")

		if wrapped.Code != StatusInternalServerError {
			t.Errorf("expected 500, got %d", wrapped.Code)
		}
		if !strings.Contains(wrapped.Message, "doing thing x") {
			t.Errorf("expected context in message, got %s", wrapped.Message)
		}
		if !errors.Is(wrapped, cause) {
			t.Error("expected wrapped error to unwrap to its cause")
		}
	})

	t.Run("typed errors keep their code and scope", func(t *testing.T) {
		inner := timeout("CONN", "send timeout")

		wrapped := wrap(inner, "delivering event")

		if wrapped.Code != StatusGatewayTimeout || !wrapped.Temporary || wrapped.Scope != "CONN" {
			t.Errorf("expected attributes preserved, got %+v", wrapped)
		}
		if !strings.Contains(wrapped.Message, "delivering event") {
			t.Errorf("expected context prepended, got %s", wrapped.Message)
		}
	})
}

func TestErrorDetails(t *testing.T) {
	err := badRequest("GATEWAY", "bad payload").withDetails(map[string]string{"field": "userId"})

	details, ok := err.Details.(map[string]string)

	if !ok || details["field"] != "userId" {
		t.Errorf("unexpected details: %+v", err.Details)
	}
}

func TestCombine(t *testing.T) {
	if combine(nil, nil) != nil {
		t.Error("expected nil for all-nil input")
	}

	single := errors.New("only")

	if got := combine(nil, single); got != single {
		t.Errorf("expected the single error back, got %v", got)
	}

	a, b := errors.New("a"), errors.New("b")

	combined := combine(a, nil, b)

	var me *MultiError
	if !errors.As(combined, &me) {
		t.Fatalf("expected MultiError, got %T", combined)
	}
	if got := combined.Error(); got != "a; b" {
		t.Errorf("unexpected joined message: %s", got)
	}
	if !errors.Is(combined, a) || !errors.Is(combined, b) {
		t.Error("expected both errors reachable via Is")
	}
}

func TestAddError(t *testing.T) {
	a := errors.New("a")

	if got := addError(nil, a); got != a {
		t.Errorf("expected base passthrough, got %v", got)
	}
	if got := addError(a, nil); got != a {
		t.Errorf("expected nil addition ignored, got %v", got)
	}

	acc := addError(a, errors.New("b"))

	acc = addError(acc, fmt.Errorf("c"))

	var me *MultiError
	if !errors.As(acc, &me) || len(me.errors) != 3 {
		t.Fatalf("expected 3 accumulated errors, got %v", acc)
	}
}
