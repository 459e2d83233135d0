package apperror

import (
	"errors"
	"net/http"
	"testing"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{BadRequest, http.StatusBadRequest},
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{PayloadTooLarge, http.StatusRequestEntityTooLarge},
		{BadGateway, http.StatusBadGateway},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.kind.Status(); got != tt.want {
			t.Errorf("%v.Status() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	wrapped := Wrap(Conflict, "architecture already uploaded", errors.New("duplicate"))
	if KindOf(wrapped) != Conflict {
		t.Errorf("KindOf(wrapped) = %v, want Conflict", KindOf(wrapped))
	}

	plain := errors.New("boom")
	if KindOf(plain) != Internal {
		t.Errorf("KindOf(plain) = %v, want Internal", KindOf(plain))
	}

	nested := errors.Join(errors.New("context"), New(NotFound, "no such version"))
	if KindOf(nested) != NotFound {
		t.Errorf("KindOf(nested) = %v, want NotFound", KindOf(nested))
	}
}
