package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/footfall/internal/footfall"
)

// Handle supplies a live database handle.
type Handle interface {
	DB() (*gorm.DB, error)
}

// Store is a footfall.Store backed by PostgreSQL.
type Store struct {
	handle Handle
}

var _ footfall.Store = (*Store)(nil)

// NewStore creates a Store reading its connection from handle.
func NewStore(handle Handle) (*Store, error) {
	if handle == nil {
		return nil, errors.New("database handle cannot be nil")
	}
	return &Store{handle: handle}, nil
}

func (s *Store) db(ctx context.Context) (*gorm.DB, error) {
	db, err := s.handle.DB()
	if err != nil {
		return nil, translateError(err)
	}
	return db.WithContext(ctx), nil
}

// InsertReading stores r and fills in its ID and CreatedAt.
func (s *Store) InsertReading(ctx context.Context, r *footfall.Reading) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	rec := newReadingRecord(r)
	if err := db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create sensor reading: %w", translateError(err))
	}

	r.ID = rec.ID
	r.CreatedAt = rec.CreatedAt.UTC()
	return nil
}

// FindReadings returns readings matching f, newest first.
func (s *Store) FindReadings(ctx context.Context, f footfall.ReadingFilter) ([]footfall.Reading, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&ReadingRecord{})
	if f.SensorID != "" {
		query = query.Where("sensor_id = ?", f.SensorID)
	}
	if !f.From.IsZero() {
		query = query.Where("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		query = query.Where("timestamp <= ?", f.To)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var records []ReadingRecord
	if err := query.Order("timestamp DESC, id DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query sensor readings: %w", translateError(err))
	}

	readings := make([]footfall.Reading, len(records))
	for i, rec := range records {
		readings[i] = rec.toReading()
	}
	return readings, nil
}

// TouchDevice upserts the device row for sensorID, setting last_seen and
// status active in a single statement.
func (s *Store) TouchDevice(ctx context.Context, sensorID string, seenAt time.Time) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	rec := &DeviceRecord{
		SensorID:         sensorID,
		Name:             sensorID,
		FirmwareVersion:  footfall.DefaultFirmwareVersion,
		BatteryLevel:     footfall.DefaultBatteryLevel,
		InstallationDate: seenAt,
		LastSeen:         seenAt,
		Status:           string(footfall.StatusActive),
	}

	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sensor_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_seen":  seenAt,
			"status":     string(footfall.StatusActive),
			"updated_at": gorm.Expr("NOW()"),
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", translateError(err))
	}
	return nil
}

// UpsertDevice creates d or replaces its registration fields. Description and
// location are kept when d leaves them empty.
func (s *Store) UpsertDevice(ctx context.Context, d *footfall.Device) (*footfall.Device, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	columns := []string{"name", "firmware_version", "battery_level", "installation_date", "last_seen", "status", "updated_at"}
	if d.Description != "" {
		columns = append(columns, "description")
	}
	if d.Location != nil {
		columns = append(columns, "longitude", "latitude")
	}

	rec := newDeviceRecord(d)
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sensor_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(rec).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device: %w", translateError(err))
	}

	return s.GetDevice(ctx, d.SensorID)
}

// GetDevice returns the device registered under sensorID.
func (s *Store) GetDevice(ctx context.Context, sensorID string) (*footfall.Device, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	var rec DeviceRecord
	if err := db.Where("sensor_id = ?", sensorID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &footfall.NotFoundError{Resource: "device", ID: sensorID}
		}
		return nil, fmt.Errorf("failed to fetch device: %w", translateError(err))
	}

	device := rec.toDevice()
	return &device, nil
}

// SetDeviceStatus updates status and, when lastSeen is set, last_seen.
func (s *Store) SetDeviceStatus(ctx context.Context, sensorID string, status footfall.Status, lastSeen *time.Time) (*footfall.Device, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"status": string(status)}
	if lastSeen != nil {
		updates["last_seen"] = *lastSeen
	}

	res := db.Model(&DeviceRecord{}).Where("sensor_id = ?", sensorID).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update device status: %w", translateError(res.Error))
	}
	if res.RowsAffected == 0 {
		return nil, &footfall.NotFoundError{Resource: "device", ID: sensorID}
	}

	return s.GetDevice(ctx, sensorID)
}

// ListDevices returns devices whose effective status matches f, ordered by
// last_seen, newest first.
func (s *Store) ListDevices(ctx context.Context, f footfall.DeviceFilter) ([]footfall.Device, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	now := f.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	query := effectiveStatusScope(db.Model(&DeviceRecord{}), f.Status, footfall.ActiveSince(now))
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var records []DeviceRecord
	if err := query.Order("last_seen DESC, sensor_id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", translateError(err))
	}

	devices := make([]footfall.Device, len(records))
	for i, rec := range records {
		devices[i] = rec.toDevice()
	}
	return devices, nil
}

// effectiveStatusScope restricts query to devices whose effective status is
// status, mirroring footfall.EffectiveStatus.
func effectiveStatusScope(query *gorm.DB, status footfall.Status, activeSince time.Time) *gorm.DB {
	switch status {
	case footfall.StatusMaintenance:
		return query.Where("status = ?", string(footfall.StatusMaintenance))
	case footfall.StatusActive:
		return query.Where("status <> ? AND last_seen >= ?", string(footfall.StatusMaintenance), activeSince)
	case footfall.StatusInactive:
		return query.Where("status <> ? AND last_seen < ?", string(footfall.StatusMaintenance), activeSince)
	default:
		return query
	}
}
