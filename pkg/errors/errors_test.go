package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "gateway call failed")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %s", err.Code())
	}
}

func TestAsFindsTypedErrorThroughChain(t *testing.T) {
	inner := New(CodeStateConflict, "cannot renew from trial")
	outer := fmt.Errorf("service: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeStateConflict {
		t.Fatalf("expected state conflict, got %s", typed.Code())
	}
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected 500 fallback, got %d", meta.HTTPStatus)
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeIdempotency, "payment already initiated for this order")
	if !IsCode(err, CodeIdempotency) {
		t.Fatal("expected IsCode match")
	}
	if IsCode(err, CodeValidation) {
		t.Fatal("unexpected IsCode match")
	}
	if IsCode(nil, CodeValidation) {
		t.Fatal("nil error must not match")
	}
}
