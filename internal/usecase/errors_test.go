package usecase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	cause := errors.New("connection refused")
	require.Equal(t, "chat: NOT_FOUND (session_not_found)", newError(ErrorNotFound, "session_not_found", nil).Error())
	require.Equal(t, "chat: STORAGE_ERROR (append_user_message_error): connection refused",
		newError(ErrorStorage, "append_user_message_error", cause).Error())

	var nilErr *Error
	require.Empty(t, nilErr.Error())
	require.NoError(t, nilErr.Unwrap())
	require.ErrorIs(t, newError(ErrorStorage, "x", cause), cause)
}
