package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
	"github.com/vinodismyname/funnelsnap/pkg/pagination"
)

var (
	v    *validator.Validate
	once sync.Once
)

// Validator returns a singleton validator with custom rules registered.
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New()
		// Custom: upload mode as sent in x-upload-mode or tool input
		_ = v.RegisterValidation("upload_mode", func(fl validator.FieldLevel) bool {
			switch strings.ToLower(strings.TrimSpace(fl.Field().String())) {
			case "", "replace", "append", "replace_bases":
				return true
			}
			return false
		})
		// Custom: funnel stage name
		_ = v.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
			switch strings.ToLower(strings.TrimSpace(fl.Field().String())) {
			case "", "loaded", "progressed", "contacted", "appointment", "attended", "enrolled":
				return true
			}
			return false
		})
		// Custom: breakdown dimension
		_ = v.RegisterValidation("dimension", func(fl validator.FieldLevel) bool {
			switch strings.ToLower(strings.TrimSpace(fl.Field().String())) {
			case "campus", "regimen", "weekday", "week":
				return true
			}
			return false
		})
		// Custom: cursor must be decodable via pagination.DecodeCursor
		_ = v.RegisterValidation("cursor", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return true // empty is allowed; use omitempty with this tag
			}
			_, err := pagination.DecodeCursor(s)
			return err == nil
		})
		// Custom: storage backend name
		_ = v.RegisterValidation("backend", func(fl validator.FieldLevel) bool {
			switch fl.Field().String() {
			case "fs", "s3", "postgres":
				return true
			}
			return false
		})
	})
	return v
}

// ValidateStruct validates a struct and returns a user-friendly error string
// suitable for MCP tool errors. Returns empty string when valid.
func ValidateStruct(s any) string {
	err := Validator().Struct(s)
	if err == nil {
		return ""
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "VALIDATION: invalid inputs"
	}
	fe := ve[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("VALIDATION: %s is required", field)
	case "upload_mode":
		return "VALIDATION: mode must be replace, append or replace_bases"
	case "stage":
		return "VALIDATION: stage must be one of loaded, progressed, contacted, appointment, attended, enrolled"
	case "dimension":
		return "VALIDATION: dim must be one of campus, regimen, weekday, week"
	case "cursor":
		return "CURSOR_INVALID: failed to decode cursor; restart pagination"
	case "backend":
		return "VALIDATION: storage backend must be fs, s3 or postgres"
	case "min", "max", "gte", "lte":
		return fmt.Sprintf("VALIDATION: %s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("VALIDATION: invalid %s", field)
}

// Check validates s and returns a coded error, or nil when valid.
func Check(s any) error {
	msg := ValidateStruct(s)
	if msg == "" {
		return nil
	}
	code := apperr.Validation
	if strings.HasPrefix(msg, string(apperr.CursorInvalid)+":") {
		code = apperr.CursorInvalid
	}
	_, text, _ := strings.Cut(msg, ": ")
	return apperr.New(code, text)
}
