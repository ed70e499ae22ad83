package core

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// checkTags runs the struct's validate tags and converts the first failure
// into a *ValidationError keyed by the offending field.
func checkTags(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError(strings.ToLower(fe.Field()), "failed %q constraint", fe.Tag())
	}
	return err
}
