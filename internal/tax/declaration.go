package tax

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Fiscal regimes accepted for the quarterly installment.
const (
	RegimeSimplified = "Estimación directa simplificada"
	RegimeNormal     = "Estimación directa normal"
)

// Regimes lists the selectable regimes in display order.
var Regimes = []string{RegimeSimplified, RegimeNormal}

// Declaration identifies the taxpayer and period. It is echoed in the
// summary and plays no part in the computation.
//
// The binding tags are evaluated by gin when the declaration arrives over
// HTTP and by Validate otherwise.
type Declaration struct {
	NIF          string `json:"nif" binding:"required,len=9"`
	Name         string `json:"name" binding:"required,max=120"`
	Regime       string `json:"regime" binding:"required,oneof='Estimación directa simplificada' 'Estimación directa normal'"`
	ActivityCode string `json:"activity_code" binding:"max=10"`
	Year         int    `json:"year" binding:"required,gte=2000,lte=2100"`
	Quarter      int    `json:"quarter" binding:"required,min=1,max=4"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func declarationValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.SetTagName("binding")
	})
	return validate
}

// Normalize trims free-text fields and upper-cases the NIF.
func (d Declaration) Normalize() Declaration {
	d.NIF = strings.ToUpper(strings.TrimSpace(d.NIF))
	d.Name = strings.TrimSpace(d.Name)
	d.Regime = strings.TrimSpace(d.Regime)
	d.ActivityCode = strings.TrimSpace(d.ActivityCode)
	return d
}

// Validate checks the declaration with the same rules gin applies.
func (d Declaration) Validate() error {
	return declarationValidator().Struct(d)
}

// FieldErrors flattens validator errors into field -> message, keyed by
// the JSON field name. Other errors are returned under "request".
func FieldErrors(err error) map[string]string {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"request": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[jsonName(fe.Field())] = describe(fe)
	}
	return out
}

var jsonNames = map[string]string{
	"NIF":          "nif",
	"Name":         "name",
	"Regime":       "regime",
	"ActivityCode": "activity_code",
	"Year":         "year",
	"Quarter":      "quarter",
}

func jsonName(field string) string {
	if name, ok := jsonNames[field]; ok {
		return name
	}
	return strings.ToLower(field)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "max":
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.Join(Regimes, ", "))
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
