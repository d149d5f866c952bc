package api

import (
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"procodus.dev/footfall/internal/footfall"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 10 << 20

const (
	defaultReadingLimit = 100
	defaultDeviceLimit  = 50
	maxLimit            = 1000
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report json names in field errors.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// messager maps the first failed rule of a request onto its client message.
type messager interface {
	message(fe validator.FieldError) string
}

type postReadingRequest struct {
	Count     *int      `json:"count" validate:"required,min=0"`
	Location  *geoPoint `json:"location" validate:"omitempty"`
	Timestamp string    `json:"timestamp"`
	SensorID  string    `json:"sensor_id" validate:"required"`
}

func (postReadingRequest) message(fe validator.FieldError) string {
	if fe.Field() == "count" && fe.Tag() == "min" {
		return "Count must be a non-negative number"
	}
	if fe.Tag() == "required" {
		return "Missing required fields: sensor_id and count are required"
	}
	return fe.Field() + ": invalid value"
}

type deviceRequest struct {
	Location         *geoPoint `json:"location" validate:"omitempty"`
	BatteryLevel     *int      `json:"battery_level" validate:"omitempty,min=0,max=100"`
	SensorID         string    `json:"sensor_id" validate:"required"`
	Name             string    `json:"name" validate:"required"`
	Description      string    `json:"description" validate:"max=1000"`
	FirmwareVersion  string    `json:"firmware_version"`
	InstallationDate string    `json:"installation_date"`
}

func (deviceRequest) message(fe validator.FieldError) string {
	switch fe.Field() {
	case "sensor_id", "name":
		return "sensor_id and name are required"
	case "battery_level":
		return "Battery level must be between 0 and 100"
	default:
		return fe.Field() + ": invalid value"
	}
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive maintenance"`
}

func (statusRequest) message(validator.FieldError) string {
	return "Status must be active, inactive, or maintenance"
}

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, dst messager) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &footfall.ValidationError{Message: "Request body is required"}
		}
		return &footfall.ValidationError{Message: "Invalid JSON body"}
	}
	return validateRequest(dst)
}

func validateRequest(req messager) error {
	err := getValidator().Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	// Missing fields are reported before invalid ones.
	fe := fieldErrs[0]
	for _, candidate := range fieldErrs {
		if candidate.Tag() == "required" {
			fe = candidate
			break
		}
	}
	if strings.Contains(fe.Namespace(), ".location.") {
		return &footfall.ValidationError{Field: "location", Message: "coordinates must be [longitude, latitude]"}
	}
	return &footfall.ValidationError{Message: req.message(fe)}
}

func (req postReadingRequest) toDomain() (footfall.IngestRequest, error) {
	in := footfall.IngestRequest{SensorID: req.SensorID, Count: req.Count}
	if req.Timestamp != "" {
		ts, err := parseTime("timestamp", req.Timestamp)
		if err != nil {
			return in, err
		}
		in.Timestamp = &ts
	}
	loc, err := req.Location.toDomain()
	if err != nil {
		return in, err
	}
	in.Location = loc
	return in, nil
}

func (req deviceRequest) toDomain() (footfall.DeviceRegistration, error) {
	reg := footfall.DeviceRegistration{
		SensorID:        req.SensorID,
		Name:            req.Name,
		Description:     req.Description,
		FirmwareVersion: req.FirmwareVersion,
		BatteryLevel:    req.BatteryLevel,
	}
	if req.InstallationDate != "" {
		installed, err := parseTime("installation_date", req.InstallationDate)
		if err != nil {
			return reg, err
		}
		reg.InstallationDate = installed
	}
	loc, err := req.Location.toDomain()
	if err != nil {
		return reg, err
	}
	reg.Location = loc
	return reg, nil
}

// queryLimit parses the limit query parameter, falling back to def.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, &footfall.ValidationError{Field: "limit", Message: "must be an integer between 1 and " + strconv.Itoa(maxLimit)}
	}
	return limit, nil
}

// queryRange parses the optional start_date and end_date query parameters.
func queryRange(r *http.Request) (footfall.ReadingFilter, error) {
	var f footfall.ReadingFilter
	q := r.URL.Query()
	if raw := q.Get("start_date"); raw != "" {
		from, err := parseTime("start_date", raw)
		if err != nil {
			return f, err
		}
		f.From = from
	}
	if raw := q.Get("end_date"); raw != "" {
		to, err := parseTime("end_date", raw)
		if err != nil {
			return f, err
		}
		f.To = to
	}
	f.SensorID = q.Get("sensor_id")
	return f, nil
}
