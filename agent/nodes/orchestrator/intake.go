package orchestratornode

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// NewRequirementsValidator reports field errors by their JSON names, which
// are the names the user supplies them under.
func NewRequirementsValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// MissingRequirements lists required fields that are empty and fields whose
// values are out of range, sorted.
func MissingRequirements(v *validator.Validate, req statex.Requirements) ([]string, error) {
	err := v.Struct(req)
	if err == nil {
		return nil, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, err
	}
	out := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			out = append(out, fe.Field())
			continue
		}
		out = append(out, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	sort.Strings(out)
	return out, nil
}

// Intake checks that the trip requirements are complete before any vendor
// is looked up. Incomplete requirements suspend the pipeline here.
func Intake(in *GraphState, v *validator.Validate) (*GraphState, error) {
	if in == nil || in.Pipeline == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	p := in.Pipeline

	missing, err := MissingRequirements(v, p.Requirements)
	if err != nil {
		return nil, fmt.Errorf("validate requirements: %w", err)
	}
	p.Missing = missing
	if len(missing) > 0 {
		p.RecordError(statex.StepIntake, "requirements incomplete: "+strings.Join(missing, ", "), true, in.Now)
	}
	AfterIntake(p).apply(p)
	return in, nil
}
