package validation

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

type stkPushRequest struct {
	Plan  string `json:"plan" validate:"required,oneof=starter basic"`
	Phone string `json:"phone,omitempty" validate:"omitempty,min=9"`
}

func TestFromBindErrorUsesJSONNames(t *testing.T) {
	v := validator.New()
	in := &stkPushRequest{Plan: "gold", Phone: "07"}
	err := v.Struct(in)

	got := FromBindError(err, in)
	assert.Equal(t, "Must be one of: starter basic.", got["plan"])
	assert.Equal(t, "Must be at least 9.", got["phone"])
}

func TestFromBindErrorNonValidation(t *testing.T) {
	got := FromBindError(errors.New("unexpected EOF"), &stkPushRequest{})
	assert.Contains(t, got, "_")
}
