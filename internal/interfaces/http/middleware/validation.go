package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// RequestIDKey is the header carrying the request ID
const RequestIDKey = "X-Request-ID"

// enumTags are binding tags backed by the domain's enum checks
var enumTags = map[string]func(string) bool{
	"cadence":         func(s string) bool { return pricesync.Cadence(s).IsValid() },
	"job_status":      func(s string) bool { return pricesync.JobStatus(s).IsValid() },
	"conflict_type":   func(s string) bool { return pricesync.ConflictType(s).IsValid() },
	"conflict_status": func(s string) bool { return pricesync.ConflictStatus(s).IsValid() },
	"severity":        func(s string) bool { return pricesync.Severity(s).IsValid() },
	"strategy":        func(s string) bool { return pricesync.StrategyName(s).IsValid() },
	"chosen_source":   func(s string) bool { return pricesync.SourceKind(s).IsValid() },
	"rule_type":       func(s string) bool { return pricesync.RuleType(s).IsValid() },
}

var setupOnce sync.Once

// SetupValidator configures gin's validator once per process. Errors name
// fields by their json or form tag, decimal.Decimal compares as a number,
// and the enum tags plus decimal_gt0 become available.
func SetupValidator() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(fieldName)
		v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
		_ = v.RegisterValidation("decimal_gt0", func(fl validator.FieldLevel) bool {
			return fl.Field().Kind() == reflect.Float64 && fl.Field().Float() > 0
		})
		for tag, valid := range enumTags {
			_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
				return fl.Field().Kind() == reflect.String && valid(fl.Field().String())
			})
		}
	})
}

func fieldName(fld reflect.StructField) string {
	for _, key := range []string{"json", "form", "uri"} {
		name, _, _ := strings.Cut(fld.Tag.Get(key), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

func decimalValue(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return nil
}

// FormatValidationErrors lists each rejected field. Errors that did not
// come from the validator produce a response without details.
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details = make([]dto.ValidationDetail, 0, len(verrs))
		for _, e := range verrs {
			details = append(details, dto.ValidationDetail{Field: e.Field(), Message: validationMessage(e)})
		}
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError answers 400 with the rejected fields
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, RequestIDFrom(c)))
}

var tagMessages = map[string]string{
	"required": "This field is required",
	"uuid":     "Invalid UUID format",
	"oneof":    "Must be one of: %s",
	"gte":      "Must be greater than or equal to %s",
	"lte":      "Must be less than or equal to %s",
	"lt":       "Must be less than %s",
}

func validationMessage(e validator.FieldError) string {
	tag := e.Tag()
	if _, ok := enumTags[tag]; ok {
		return "Unknown " + strings.ReplaceAll(tag, "_", " ")
	}
	switch tag {
	case "min", "max":
		bound := map[string]string{"min": "at least", "max": "at most"}[tag]
		if e.Kind() == reflect.String {
			return fmt.Sprintf("Must be %s %s characters", bound, e.Param())
		}
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("Must have %s %s items", bound, e.Param())
		}
		return fmt.Sprintf("Must be %s %s", bound, e.Param())
	case "gt", "decimal_gt0":
		if e.Param() == "" {
			return "Must be greater than 0"
		}
		return "Must be greater than " + e.Param()
	}
	if msg, ok := tagMessages[tag]; ok {
		if strings.Contains(msg, "%s") {
			return fmt.Sprintf(msg, e.Param())
		}
		return msg
	}
	return "Invalid value"
}
