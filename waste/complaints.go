package waste

import (
	"fmt"
	"strings"
	"time"
)

// MaxDescriptionLength bounds the free-text part of a complaint
const MaxDescriptionLength = 500

// ComplaintRequest is a resident complaint as submitted through the intake form
type ComplaintRequest struct {
	Neighborhood string    `json:"neighborhood" validate:"required"`
	IssueType    IssueType `json:"issueType" validate:"required,issuetype"`
	Description  string    `json:"description" validate:"max=500"`
	ContainerID  string    `json:"containerId,omitempty"`
}

// Validate checks field constraints and that the neighborhood is known.
func (r ComplaintRequest) Validate(hoods NeighborhoodConfig) error {
	const op = "submit complaint"
	r.Neighborhood = strings.TrimSpace(r.Neighborhood)
	r.Description = strings.TrimSpace(r.Description)
	if err := getValidator().Struct(r); err != nil {
		return newError(KindValidation, op, describeValidation(err), nil)
	}
	if !hoods.IsKnown(r.Neighborhood) {
		return newError(KindValidation, op, fmt.Sprintf("unknown neighborhood %q", r.Neighborhood), nil)
	}
	return nil
}

// newComplaint turns a validated request into a New complaint
func newComplaint(r ComplaintRequest, id string, now time.Time) ComplaintRecord {
	return ComplaintRecord{
		ID:           id,
		Timestamp:    now,
		Neighborhood: strings.TrimSpace(r.Neighborhood),
		IssueType:    r.IssueType,
		Description:  strings.TrimSpace(r.Description),
		Status:       ComplaintNew,
		ContainerID:  strings.TrimSpace(r.ContainerID),
	}
}
