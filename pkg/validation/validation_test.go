package validation

import (
	"errors"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type joinBody struct {
	Code string `json:"code" binding:"required,roomcode"`
	Tag  string `json:"owner_tag" binding:"omitempty,notblank"`
}

func TestRegisterIsIdempotent(t *testing.T) {
	require.NoError(t, Register())
	require.NoError(t, Register())
}

func TestRoomCode(t *testing.T) {
	require.NoError(t, Register())

	assert.NoError(t, binding.Validator.ValidateStruct(&joinBody{Code: "ABC123"}))
	assert.NoError(t, binding.Validator.ValidateStruct(&joinBody{Code: " abc123 "}))

	err := binding.Validator.ValidateStruct(&joinBody{Code: "AB-12"})
	require.Error(t, err)
	assert.Equal(t, "code must be 6 letters or digits", Message(err))
}

func TestNotBlankAndRequiredMessages(t *testing.T) {
	require.NoError(t, Register())

	err := binding.Validator.ValidateStruct(&joinBody{Code: "ABC123", Tag: "   "})
	require.Error(t, err)
	assert.Equal(t, "owner_tag must not be blank", Message(err))

	err = binding.Validator.ValidateStruct(&joinBody{})
	require.Error(t, err)
	assert.Equal(t, "code is a required field", Message(err))
}

func TestMessagePassesThroughOtherErrors(t *testing.T) {
	assert.Equal(t, "unexpected EOF", Message(errors.New("unexpected EOF")))
}
