package validation

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// FieldError is one itemized validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Path + ": " + e.Message
}

// Result never carries a Go error; Valid is false when Errors is non-empty.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

func ok() Result { return Result{Valid: true} }

func (r *Result) add(path, msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, FieldError{Path: path, Message: msg})
}

// Messages flattens the result for logs and warning lists.
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.String())
	}
	return out
}

// Err returns nil for a valid result, otherwise an error wrapping ErrValidation.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%s: %w", strings.Join(r.Messages(), "; "), models.ErrValidation)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator, keyed on json field names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return camelToSnake(fld.Name)
			}
			return name
		})
	})
	return validate
}

// Struct runs tag validation on v and itemizes the failures.
func Struct(v any) Result {
	err := Validator().Struct(v)
	if err == nil {
		return ok()
	}
	res := Result{Valid: false}
	validationErrs, isFieldErrs := err.(validator.ValidationErrors)
	if !isFieldErrs {
		res.add("", err.Error())
		return res
	}
	for _, e := range validationErrs {
		res.add(formatFieldPath(e.Namespace()), formatValidationError(e))
	}
	return res
}

// ValidateInput checks a generation request. An invalid input must be rejected
// before any side effect.
func ValidateInput(in *models.GeneratorInput) Result {
	if in == nil {
		res := Result{}
		res.add("", "input is nil")
		return res
	}
	res := Struct(in)
	seen := make(map[string]struct{}, len(in.Destinations))
	for i, d := range in.Destinations {
		if _, dup := seen[d.ID]; dup && d.ID != "" {
			res.add(fmt.Sprintf("destinations[%d].id", i), fmt.Sprintf("duplicate destination id %q", d.ID))
		}
		seen[d.ID] = struct{}{}
		if d.OpeningHours != nil && d.OpeningHours.Close <= d.OpeningHours.Open {
			res.add(fmt.Sprintf("destinations[%d].opening_hours", i), "close must be after open")
		}
	}
	return res
}

// ValidateOutput checks the shape of a produced plan. Callers treat a failure
// as a warning.
func ValidateOutput(out *models.GeneratorOutput) Result {
	if out == nil {
		res := Result{}
		res.add("", "output is nil")
		return res
	}
	return Struct(out)
}

// ValidateStructure checks that the plan is usable: at least one day, every day
// has a destination, and day indices run 1..N without gaps or duplicates.
func ValidateStructure(out *models.GeneratorOutput) Result {
	res := ok()
	if out == nil {
		res.add("", "plan is nil")
		return res
	}
	if len(out.Days) == 0 {
		res.add("days", "plan has no days")
		return res
	}
	seen := make(map[int]bool, len(out.Days))
	for i, d := range out.Days {
		path := fmt.Sprintf("days[%d]", i)
		if len(d.Destinations) == 0 {
			res.add(path+".destinations", "day has no destinations")
		}
		if seen[d.Day] {
			res.add(path+".day", fmt.Sprintf("duplicate day index %d", d.Day))
		}
		seen[d.Day] = true
	}
	for n := 1; n <= len(out.Days); n++ {
		if !seen[n] {
			res.add("days", fmt.Sprintf("day %d is missing", n))
		}
	}
	return res
}

// formatValidationError formats a single validation error with its details.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s (got: %v)", e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("must be at most %s (got: %v)", e.Param(), e.Value())
	case "gt":
		return fmt.Sprintf("must be greater than %s (got: %v)", e.Param(), e.Value())
	case "gtfield":
		return fmt.Sprintf("must be after %s (got: %v)", camelToSnake(e.Param()), e.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s] (got: %v)", e.Param(), e.Value())
	default:
		return fmt.Sprintf("failed validation '%s' (got: %v)", e.Tag(), e.Value())
	}
}

// formatFieldPath drops the root struct name from the validator namespace.
// Example: "GeneratorInput.preferences.budget" -> "preferences.budget"
func formatFieldPath(namespace string) string {
	parts := strings.SplitN(namespace, ".", 2)
	if len(parts) < 2 {
		return namespace
	}
	return parts[1]
}

// camelToSnake converts CamelCase to snake_case.
func camelToSnake(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
