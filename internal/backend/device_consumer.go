package backend

import (
	"context"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/pkg/message"
)

// Registrar stores device registrations.
type Registrar interface {
	RegisterDevice(ctx context.Context, reg footfall.DeviceRegistration) (*footfall.DeviceView, error)
}

// NewDeviceHandler returns a Handler that decodes Device payloads and
// upserts the registration.
func NewDeviceHandler(svc Registrar) Handler {
	return func(ctx context.Context, body []byte) error {
		msg, err := message.UnmarshalDevice(body)
		if err != nil {
			return &footfall.ValidationError{Field: "body", Message: err.Error()}
		}

		reg := footfall.DeviceRegistration{
			SensorID:        msg.SensorID,
			Name:            msg.Name,
			Description:     msg.Description,
			FirmwareVersion: msg.FirmwareVersion,
			BatteryLevel:    msg.BatteryLevel,
		}
		if msg.InstallationDate != nil {
			reg.InstallationDate = *msg.InstallationDate
		}
		if msg.Location != nil {
			lng, lat, err := msg.Location.LngLat()
			if err != nil {
				return &footfall.ValidationError{Message: err.Error()}
			}
			if reg.Location, err = footfall.NewGeoPoint(lng, lat); err != nil {
				return err
			}
		}

		_, err = svc.RegisterDevice(ctx, reg)
		return err
	}
}
