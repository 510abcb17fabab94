package storage

import (
	"errors"
	"testing"
)

func TestDbErrorWrapsUnderlying(t *testing.T) {
	underlying := errors.New("disk full")
	err := WrapDbError("writing page", underlying)
	if !errors.Is(err, underlying) {
		t.Error("WrapDbError result should unwrap to the underlying error")
	}
	if err.Error() == "" {
		t.Error("expected a non-empty message")
	}
}

func TestNewDbErrorHasMessage(t *testing.T) {
	err := NewDbError("table not found")
	if err.Error() == "" {
		t.Error("expected a non-empty message")
	}
}

func TestPanicIllegalArgumentPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic")
		}
		if _, ok := r.(*IllegalArgumentError); !ok {
			t.Errorf("recovered %T, want *IllegalArgumentError", r)
		}
	}()
	panicIllegalArgument("bad slot %d", 7)
}
