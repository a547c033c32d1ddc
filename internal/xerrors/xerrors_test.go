package xerrors

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should return nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "loading config")

	if got := err.Error(); got != "loading config: boom" {
		t.Fatalf("Error(): got %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error should unwrap to base")
	}
}

func TestWrap_PreservesTypedErrors(t *testing.T) {
	base := &fs.PathError{Op: "open", Path: "site.toml", Err: errors.New("no such file")}
	err := Wrapf(Wrap(base, "inner"), "outer %s", "layer")

	var pe *fs.PathError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should find *fs.PathError through wrap layers")
	}
	if pe.Path != "site.toml" {
		t.Fatalf("path: got %q", pe.Path)
	}
}

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")

	var hs hasStack
	if !errors.As(err, &hs) {
		t.Fatal("New should capture a stack")
	}
	if len(hs.StackPCs()) == 0 {
		t.Fatal("captured stack is empty")
	}
}

func TestWithStack_Idempotent(t *testing.T) {
	err := New("boom")
	again := WithStack(err)
	if again != err {
		t.Fatal("WithStack should not re-wrap an error that already has a stack")
	}
}

func TestWrap_CapturesCallerPC(t *testing.T) {
	err := Wrap(errors.New("boom"), "ctx")

	w, ok := err.(*wrapped)
	if !ok {
		t.Fatalf("expected *wrapped, got %T", err)
	}
	if w.PC() == 0 {
		t.Fatal("wrap site PC not captured")
	}
}

func TestNewf_Formats(t *testing.T) {
	err := Newf("bad value %q at index %d", "x", 3)
	if !strings.Contains(err.Error(), `bad value "x" at index 3`) {
		t.Fatalf("Newf: got %q", err.Error())
	}
}
