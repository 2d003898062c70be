package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type codedErr struct{}

func (codedErr) Error() string   { return "coded" }
func (codedErr) ErrorCode() Code { return CodeProviderTransient }

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("record attempt: %w", Conflict("attempts changed"))
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, CodeNotFound, CodeOf(fmt.Errorf("x: %w", NotFound("lead"))))
	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	require.Equal(t, CodeProviderTransient, CodeOf(fmt.Errorf("dial: %w", codedErr{})))
	require.Equal(t, Code(""), CodeOf(nil))
	require.False(t, IsCode(nil, CodeInternal))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeInternal, "load campaigns", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "load campaigns: connection reset", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, HTTPStatus(Validation("bad window")))
	require.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("conversation")))
	require.Equal(t, http.StatusConflict, HTTPStatus(Conflict("version")))
	require.Equal(t, http.StatusBadGateway, HTTPStatus(codedErr{}))
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}
