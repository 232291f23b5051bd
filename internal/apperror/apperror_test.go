package apperror_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbis-ilm/sensbee/internal/apperror"
)

func TestStatus_MapsKindToCode(t *testing.T) {
	cases := []struct {
		kind apperror.Kind
		want int
	}{
		{apperror.KindUnauthorized, http.StatusUnauthorized},
		{apperror.KindNotFound, http.StatusNotFound},
		{apperror.KindValidation, http.StatusBadRequest},
		{apperror.KindInternal, http.StatusInternalServerError},
		{apperror.KindDatabase, http.StatusInternalServerError},
	}
	for _, c := range cases {
		e := apperror.New(c.kind, "x")
		assert.Equal(t, c.want, e.Status())
	}
}

func TestWrap_HidesCauseFromMessage(t *testing.T) {
	cause := errors.New("pq: relation does not exist")
	e := apperror.Internal("missing data to insert", cause)
	assert.Equal(t, "missing data to insert", e.Msg)
	assert.ErrorIs(t, e, cause)
}

func TestAs_Extracts(t *testing.T) {
	err := error(apperror.Unauthorized("nope"))
	e, ok := apperror.As(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.KindUnauthorized, e.Kind)
}

func TestAs_FalseForPlainError(t *testing.T) {
	_, ok := apperror.As(errors.New("plain"))
	assert.False(t, ok)
}
