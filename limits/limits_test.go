package limits

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFrameRejectsOversized(t *testing.T) {
	assert.NoError(t, ValidateFrame(bytes.Repeat([]byte{0}, MaxFrameBytes)))
	assert.ErrorIs(t, ValidateFrame(bytes.Repeat([]byte{0}, MaxFrameBytes+1)), ErrTooLarge)
}

func TestValidateOutboxBlobRejectsOversized(t *testing.T) {
	assert.NoError(t, ValidateOutboxBlob(bytes.Repeat([]byte{0}, MaxOutboxBytes)))
	assert.ErrorIs(t, ValidateOutboxBlob(bytes.Repeat([]byte{0}, MaxOutboxBytes+1)), ErrTooLarge)
}

func TestValidateNameRejectsEmptyAndOversized(t *testing.T) {
	assert.ErrorIs(t, ValidateName(""), ErrEmpty)
	assert.NoError(t, ValidateName("a"))
	assert.ErrorIs(t, ValidateName(string(bytes.Repeat([]byte{'a'}, MaxContactName+1))), ErrTooLarge)
}
