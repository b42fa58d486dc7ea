package dispatch_test

import (
	"errors"
	"testing"

	"loopbackd/internal/dispatch"
)

type counter struct {
	value int
}

func (c *counter) Inc() int {
	c.value++
	return c.value
}

func (c *counter) Add(n int) int {
	c.value += n
	return c.value
}

func (c *counter) Boom() error {
	return errors.New("nope")
}

func (c *counter) Value() int {
	return c.value
}

func TestInvokeNoArgs(t *testing.T) {
	t.Parallel()

	c := &counter{}
	got, err := dispatch.Invoke(c, "Inc", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.(int) != 1 {
		t.Fatalf("got %v, want 1", got)
	}
}

func TestInvokeWithArgs(t *testing.T) {
	t.Parallel()

	c := &counter{}
	got, err := dispatch.Invoke(c, "Add", []any{int64(5)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.(int) != 5 {
		t.Fatalf("got %v, want 5", got)
	}
}

func TestInvokeMethodNotFound(t *testing.T) {
	t.Parallel()

	c := &counter{}
	_, err := dispatch.Invoke(c, "DoesNotExist", nil)
	var nf *dispatch.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestInvokeArityMismatch(t *testing.T) {
	t.Parallel()

	c := &counter{}
	_, err := dispatch.Invoke(c, "Add", nil)
	var ae *dispatch.ArityError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ArityError, got %v", err)
	}
}

func TestInvokeReturnedErrorSurfaces(t *testing.T) {
	t.Parallel()

	c := &counter{}
	_, err := dispatch.Invoke(c, "Boom", nil)
	if err == nil || err.Error() != "nope" {
		t.Fatalf("expected error %q, got %v", "nope", err)
	}
}

func TestInvokeSequentialCallsMutateSharedState(t *testing.T) {
	t.Parallel()

	c := &counter{}
	for i := 0; i < 3; i++ {
		if _, err := dispatch.Invoke(c, "Inc", nil); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
	}
	got, err := dispatch.Invoke(c, "Value", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.(int) != 3 {
		t.Fatalf("got %v, want 3", got)
	}
}
