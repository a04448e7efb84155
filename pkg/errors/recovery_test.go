package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestRecover_WithPanic tests the Recover function when a panic occurs
func TestRecover_WithPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		panic("test panic message")
	}

	err := testFunc()
	if err == nil {
		t.Fatal("Expected error from recovered panic, got nil")
	}

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}

	if panicErr.Operation != "TestOperation" {
		t.Errorf("Expected operation 'TestOperation', got '%s'", panicErr.Operation)
	}

	if panicErr.StackTrace == "" {
		t.Error("Expected non-empty stack trace")
	}

	expectedMsg := "panic in TestOperation: test panic message"
	if panicErr.Error() != expectedMsg {
		t.Errorf("Expected error message '%s', got '%s'", expectedMsg, panicErr.Error())
	}

	if !strings.Contains(panicErr.String(), "Stack trace:") {
		t.Error("String() should include the stack trace")
	}
}

// TestRecover_WithoutPanic tests the Recover function when no panic occurs
func TestRecover_WithoutPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		return nil
	}

	if err := testFunc(); err != nil {
		t.Fatalf("Expected no error when no panic occurs, got: %v", err)
	}
}

// TestRecover_WithExistingError tests Recover when function has existing error and panic occurs
func TestRecover_WithExistingError(t *testing.T) {
	originalErr := fmt.Errorf("original error")

	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		err = originalErr
		panic("panic after error")
	}

	err := testFunc()
	if err == nil {
		t.Fatal("Expected error from recovered panic with existing error, got nil")
	}

	errMsg := err.Error()
	if !strings.Contains(errMsg, "panic in TestOperation") {
		t.Errorf("Error message should contain panic info: %s", errMsg)
	}
	if !errors.Is(err, originalErr) {
		t.Error("Wrapped error should still match the original error")
	}
}

func TestSafeExecute(t *testing.T) {
	t.Run("returns function error", func(t *testing.T) {
		want := errors.New("transient network error")
		err := SafeExecute("report", func() error { return want })
		if !errors.Is(err, want) {
			t.Errorf("SafeExecute() = %v, want %v", err, want)
		}
	})

	t.Run("converts panic", func(t *testing.T) {
		err := SafeExecute("report", func() error {
			var m map[string]int
			m["boom"] = 1
			return nil
		})
		var panicErr *PanicError
		if !errors.As(err, &panicErr) {
			t.Fatalf("Expected PanicError, got %T", err)
		}
		if panicErr.Operation != "report" {
			t.Errorf("Operation = %q, want report", panicErr.Operation)
		}
	})

	t.Run("success", func(t *testing.T) {
		if err := SafeExecute("report", func() error { return nil }); err != nil {
			t.Errorf("SafeExecute() = %v, want nil", err)
		}
	})
}

func TestPanicErrorUnwrap(t *testing.T) {
	sentinel := errors.New("controller unavailable")
	err := SafeExecute("report rmse", func() error { panic(sentinel) })
	if !errors.Is(err, sentinel) {
		t.Errorf("errors.Is(%v, sentinel) = false, want true", err)
	}

	err = SafeExecute("report rmse", func() error { panic("plain string") })
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}
	if panicErr.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil for non-error panic values", panicErr.Unwrap())
	}
}
