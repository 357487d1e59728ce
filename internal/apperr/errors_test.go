package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(CodeConflict, "workflow is not pending")
	assert.Equal(t, "CONFLICT: workflow is not pending", plain.Error())

	cause := errors.New("connection refused")
	wrapped := Wrap(cause, CodeInternal, "failed to create job")
	assert.Equal(t, "INTERNAL: failed to create job: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, CodeNotFound, NotFound("loan", "l1").Code)
	assert.Contains(t, NotFound("loan", "l1").Message, "loan not found: l1")
	assert.Equal(t, CodeInvalidInput, InvalidInput("loan_id", "required").Code)
	assert.Equal(t, CodeConflict, Conflict("already terminal").Code)
	assert.Equal(t, CodeInternal, Internal("boom").Code)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeUnauthorized, CodeOf(New(CodeUnauthorized, "not your assignment")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("foreign error")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
