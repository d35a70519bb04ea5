// Package validator checks decoded request bodies and reports failures as a
// field to message map.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/samber/lo"
)

var (
	rePhone = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	reOTP   = regexp.MustCompile(`^[0-9]{6}$`)
)

var ErrTranslatorNotFound = errors.New("translator not found")

type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// ValidationError maps snake_case field names to messages.
type ValidationError map[string]string

func (vs ValidationError) Error() string {
	if len(vs) == 0 {
		return "validation error"
	}
	b, err := json.Marshal(vs)
	if err != nil {
		return fmt.Sprintf("validation error (failed to marshal: %v)", err)
	}
	return string(b)
}

func New() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	enTrans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}

	if err := enTranslations.RegisterDefaultTranslations(validate, enTrans); err != nil {
		return nil, err
	}
	if err := registerCustom(validate, enTrans); err != nil {
		return nil, err
	}

	return &Validator{validate: validate, translator: enTrans}, nil
}

// Validate returns a ValidationError when data breaks any rule.
func (v *Validator) Validate(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	var validateErrs validator.ValidationErrors
	if !errors.As(err, &validateErrs) {
		return err
	}

	out := make(ValidationError, len(validateErrs))
	for _, fe := range validateErrs {
		out[lo.SnakeCase(fe.Field())] = fe.Translate(v.translator)
	}
	return out
}

type rule struct {
	tag     string
	message string
	check   func(string) bool
}

var rules = []rule{
	{"phone", "{0} must be a phone number in international format", rePhone.MatchString},
	{"otp", "{0} must be exactly 6 digits", reOTP.MatchString},
}

func registerCustom(validate *validator.Validate, enTrans ut.Translator) error {
	for _, r := range rules {
		check := r.check
		if err := validate.RegisterValidation(r.tag, func(fl validator.FieldLevel) bool {
			s, ok := fl.Field().Interface().(string)
			return ok && check(s)
		}); err != nil {
			return err
		}

		tag, message := r.tag, r.message
		if err := validate.RegisterTranslation(tag, enTrans,
			func(t ut.Translator) error { return t.Add(tag, message, false) },
			func(t ut.Translator, fe validator.FieldError) string {
				msg, err := t.T(fe.Tag(), fe.Field())
				if err != nil {
					return fe.Error()
				}
				return msg
			},
		); err != nil {
			return err
		}
	}
	return nil
}
