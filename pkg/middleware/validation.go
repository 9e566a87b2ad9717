package middleware

import (
	stderrors "errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/atelier-platform/production-engine/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`)
	stageIDRegex    = regexp.MustCompile(`^[a-z][a-z0-9_]{1,39}$`)
	currencyRegex   = regexp.MustCompile(`^[A-Z]{3}$`)
)

var customValidations = map[string]validator.Func{
	"identifier": func(fl validator.FieldLevel) bool { return identifierRegex.MatchString(fl.Field().String()) },
	"stage_id":   func(fl validator.FieldLevel) bool { return stageIDRegex.MatchString(fl.Field().String()) },
	"currency":   func(fl validator.FieldLevel) bool { return currencyRegex.MatchString(fl.Field().String()) },
	"priority": func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "low", "normal", "high", "urgent":
			return true
		}
		return false
	},
	// reason must carry some text once trimmed
	"reason": func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		return len(s) >= 3 && len(s) <= 500
	},
}

func register(v *validator.Validate) {
	for tag, fn := range customValidations {
		_ = v.RegisterValidation(tag, fn)
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// InitValidator registers the custom tags on a standalone validator and on gin's binding engine
func InitValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		register(validate)

		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			register(v)
		}
	})
	return validate
}

// ValidationErrorFormatter formats validation errors into a field map
func ValidationErrorFormatter(err error) map[string]string {
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		for _, e := range verrs {
			fields[e.Field()] = formatValidationError(e)
		}
	}
	return fields
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + e.Param()
	case "max", "lte":
		return "must be at most " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "identifier":
		return "must be an identifier (letters, digits, _ . : -)"
	case "stage_id":
		return "must be a lowercase stage id"
	case "currency":
		return "must be a 3-letter ISO currency code"
	case "priority":
		return "must be one of: low, normal, high, urgent"
	case "reason":
		return "must be between 3 and 500 characters"
	case "datetime":
		return "must be a date in " + e.Param() + " format"
	default:
		return "is invalid"
	}
}

// BindAndValidate binds the JSON body and validates it
func BindAndValidate(c *gin.Context, obj any) *errors.AppError {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			return errors.ErrValidationWithFields("validation failed", ValidationErrorFormatter(verrs))
		}
		return errors.ErrBadRequest("invalid request body: " + err.Error())
	}
	return nil
}

// ValidateStruct validates a struct outside of request binding
func ValidateStruct(obj any) *errors.AppError {
	if err := InitValidator().Struct(obj); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			return errors.ErrValidationWithFields("validation failed", ValidationErrorFormatter(verrs))
		}
		return errors.ErrBadRequest("validation failed: " + err.Error())
	}
	return nil
}

// SanitizeString strips null bytes and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// InputSanitizer sanitizes query parameters
func InputSanitizer() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Request.URL.Query()
		for key, values := range query {
			for i, v := range values {
				values[i] = SanitizeString(v)
			}
			query[key] = values
		}
		c.Request.URL.RawQuery = query.Encode()
		c.Next()
	}
}

// ContentType rejects non-JSON bodies on write methods
func ContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case "POST", "PUT", "PATCH":
			ct := c.GetHeader("Content-Type")
			if c.Request.ContentLength > 0 && !strings.HasPrefix(ct, "application/json") {
				AbortWithAppError(c, errors.NewAppError("INVALID_CONTENT_TYPE", "Content-Type must be application/json", 415))
				return
			}
		}
		c.Next()
	}
}
