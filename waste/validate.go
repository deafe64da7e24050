package waste

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("issuetype", func(fl validator.FieldLevel) bool {
			return IsIssueType(IssueType(fl.Field().String()))
		})
		_ = validate.RegisterValidation("category", func(fl validator.FieldLevel) bool {
			return IsCategory(Category(fl.Field().String()))
		})
		_ = validate.RegisterValidation("containerkind", func(fl validator.FieldLevel) bool {
			return IsContainerKind(ContainerKind(fl.Field().String()))
		})
	})
	return validate
}

// IsIssueType reports whether t is one of the accepted complaint issue types.
func IsIssueType(t IssueType) bool {
	for _, it := range IssueTypes {
		if it == t {
			return true
		}
	}
	return false
}

// ValidateRecord checks a canonical record against the schema and the
// neighborhood set. Status must be N/A exactly when the kind has no access state.
func ValidateRecord(r ContainerRecord, hoods NeighborhoodConfig) error {
	const op = "validate record"
	if err := getValidator().Struct(r); err != nil {
		return newError(KindValidation, op, describeValidation(err), nil)
	}
	if !hoods.IsAllowed(r.Neighborhood) {
		return newError(KindValidation, op, fmt.Sprintf("%s: unknown neighborhood %q", r.ID, r.Neighborhood), nil)
	}
	if r.Kind.HasAccessState() == (r.Status == StatusNotApplicable) {
		return newError(KindValidation, op, fmt.Sprintf("%s: status %s does not match kind %s", r.ID, r.Status, r.Kind), nil)
	}
	return nil
}

// validateMetricInput checks the fields metric computations depend on.
func validateMetricInput(op string, containers []ContainerRecord) error {
	for _, c := range containers {
		if strings.TrimSpace(c.Neighborhood) == "" {
			return newError(KindValidation, op, fmt.Sprintf("container %q has no neighborhood", c.ID), nil)
		}
		if c.FillLevel < 0 || c.FillLevel > 100 {
			return newError(KindValidation, op, fmt.Sprintf("container %q fill level %d outside [0,100]", c.ID, c.FillLevel), nil)
		}
	}
	return nil
}

// describeValidation flattens validator errors into "Field: tag" pairs.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
