package traffic

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/willibrandon/tollgate/internal/ecode"
)

// ErrAxisConflict is returned when a sample carries both a route and a consumer.
var ErrAxisConflict = ecode.New(ecode.InvalidArgument, "traffic", "routeId and consumerId are mutually exclusive")

// Sample is one windowed traffic observation for a service on a single axis.
type Sample struct {
	ServiceID    string
	Axis         Axis
	WindowStart  time.Time
	RequestRate  float64
	LatencyP50   float64
	LatencyP95   float64
	ErrorRate4xx float64
	ErrorRate5xx float64
}

// Key returns the natural key used for upserts.
func (s Sample) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d", s.ServiceID, s.Axis.RouteID(), s.Axis.ConsumerID(), s.WindowStart.Unix())
}

// SampleInput is the ingest form of a sample, with the axis flattened into
// two optional ids.
type SampleInput struct {
	ServiceID    string    `json:"serviceId" yaml:"serviceId" validate:"required,max=128"`
	RouteID      string    `json:"routeId,omitempty" yaml:"routeId,omitempty" validate:"max=128"`
	ConsumerID   string    `json:"consumerId,omitempty" yaml:"consumerId,omitempty" validate:"max=128"`
	WindowStart  time.Time `json:"windowStart" yaml:"windowStart" validate:"required"`
	RequestRate  float64   `json:"requestRate" yaml:"requestRate" validate:"finite,gte=0"`
	LatencyP50   float64   `json:"latencyP50" yaml:"latencyP50" validate:"finite,gte=0"`
	LatencyP95   float64   `json:"latencyP95" yaml:"latencyP95" validate:"finite,gte=0"`
	ErrorRate4xx float64   `json:"errorRate4xx" yaml:"errorRate4xx" validate:"finite,gte=0"`
	ErrorRate5xx float64   `json:"errorRate5xx" yaml:"errorRate5xx" validate:"finite,gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsInf(f, 0) && !math.IsNaN(f)
	})
	return v
}

// Sample validates the input and converts it to a Sample. The window start is
// truncated to the minute and normalized to UTC.
func (in SampleInput) Sample() (Sample, error) {
	if err := validate.Struct(in); err != nil {
		return Sample{}, validationError(err)
	}

	axis, err := AxisFromColumns(in.RouteID, in.ConsumerID)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		ServiceID:    in.ServiceID,
		Axis:         axis,
		WindowStart:  TruncateMinute(in.WindowStart),
		RequestRate:  in.RequestRate,
		LatencyP50:   in.LatencyP50,
		LatencyP95:   in.LatencyP95,
		ErrorRate4xx: in.ErrorRate4xx,
		ErrorRate5xx: in.ErrorRate5xx,
	}, nil
}

// Input converts a Sample back to its ingest form.
func (s Sample) Input() SampleInput {
	return SampleInput{
		ServiceID:    s.ServiceID,
		RouteID:      s.Axis.RouteID(),
		ConsumerID:   s.Axis.ConsumerID(),
		WindowStart:  s.WindowStart,
		RequestRate:  s.RequestRate,
		LatencyP50:   s.LatencyP50,
		LatencyP95:   s.LatencyP95,
		ErrorRate4xx: s.ErrorRate4xx,
		ErrorRate5xx: s.ErrorRate5xx,
	}
}

// ParseBatch validates every input. Nothing is returned unless all inputs are
// valid, so a bad entry never leaks a partial batch into storage.
func ParseBatch(inputs []SampleInput) ([]Sample, error) {
	samples := make([]Sample, 0, len(inputs))
	for i, in := range inputs {
		s, err := in.Sample()
		if err != nil {
			return nil, ecode.Wrap(ecode.InvalidArgument, fmt.Sprintf("samples[%d]", i), err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// TruncateMinute returns t in UTC at minute resolution.
func TruncateMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ecode.Wrap(ecode.InvalidArgument, "traffic", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if fe.Tag() == "required" {
			msgs = append(msgs, ecode.FieldIsRequired(field))
		} else {
			msgs = append(msgs, ecode.FieldIsInvalid(field))
		}
	}
	return ecode.New(ecode.InvalidArgument, "traffic", "%s", strings.Join(msgs, ", "))
}
