package traffic

import (
	"strings"
	"time"

	"github.com/willibrandon/tollgate/internal/ecode"
)

// Service is a managed service registration.
type Service struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name,omitempty" yaml:"name,omitempty"`
	RegisteredAt time.Time `json:"registeredAt" yaml:"registeredAt"`
}

// ValidateServiceID checks a service id before registration.
func ValidateServiceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ecode.New(ecode.InvalidArgument, "traffic.ValidateServiceID", "%s", ecode.FieldIsRequired("serviceId"))
	}
	if len(id) > 128 {
		return ecode.New(ecode.InvalidArgument, "traffic.ValidateServiceID", "%s", ecode.FieldIsInvalid("serviceId"))
	}
	return nil
}
