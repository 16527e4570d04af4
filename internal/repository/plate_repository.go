package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"platesync-service/internal/domain/plates"
)

// PlateRepository is the client for the remote record service: a `plates`
// relation keyed by record id and scoped by the owning user id.
type PlateRepository struct {
	db *gorm.DB
}

func NewPlateRepository(db *gorm.DB) *PlateRepository {
	return &PlateRepository{db: db}
}

type PlateRow struct {
	ID               string    `gorm:"primaryKey"`
	UserID           string    `gorm:"not null;index"`
	PlateNumber      string    `gorm:"not null"`
	Timestamp        time.Time `gorm:"not null;index"`
	ImageURL         *string
	ImageStoragePath *string
	Confidence       float64
	Letters          *string
	Numbers          *string
	BBox             datatypes.JSON `gorm:"type:jsonb"`
	Notes            *string
	Location         *string
	VehicleType      *string
	IsVerified       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (PlateRow) TableName() string {
	return "plates"
}

// Upsert writes the record by id, scoped to the owning user. Last writer
// wins; there is no version check.
func (r *PlateRepository) Upsert(ctx context.Context, record plates.Record, userID string) error {
	row := toRow(record, userID)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

// ListByUser returns all records owned by the user, newest first.
func (r *PlateRepository) ListByUser(ctx context.Context, userID string) ([]plates.Record, error) {
	var rows []PlateRow
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]plates.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, fromRow(row))
	}
	return records, nil
}

// ListImageURLs returns the image locators for every record owned by the
// user. Used to clean up blob storage before a bulk delete.
func (r *PlateRepository) ListImageURLs(ctx context.Context, userID string) ([]string, error) {
	var rows []PlateRow
	err := r.db.WithContext(ctx).
		Select("id", "image_url").
		Where("user_id = ?", userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.ImageURL != nil && *row.ImageURL != "" {
			urls = append(urls, *row.ImageURL)
		}
	}
	return urls, nil
}

// DeleteByID hard-deletes one row.
func (r *PlateRepository) DeleteByID(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&PlateRow{}, "id = ?", id).Error
}

// DeleteByUser hard-deletes every row owned by the user.
func (r *PlateRepository) DeleteByUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Delete(&PlateRow{}, "user_id = ?", userID).Error
}

func toRow(record plates.Record, userID string) PlateRow {
	row := PlateRow{
		ID:          record.ID,
		UserID:      userID,
		PlateNumber: record.PlateNumber,
		Timestamp:   record.Timestamp,
		Confidence:  record.Confidence,
		IsVerified:  record.IsVerified,
	}

	if record.ImageURL != "" {
		row.ImageURL = &record.ImageURL
	}
	if record.ImageStoragePath != "" {
		row.ImageStoragePath = &record.ImageStoragePath
	}
	if record.Letters != "" {
		row.Letters = &record.Letters
	}
	if record.Numbers != "" {
		row.Numbers = &record.Numbers
	}
	if record.Notes != "" {
		row.Notes = &record.Notes
	}
	if record.Location != "" {
		row.Location = &record.Location
	}
	if record.VehicleType != "" {
		row.VehicleType = &record.VehicleType
	}
	if len(record.BBox) > 0 {
		if data, err := json.Marshal(record.BBox); err == nil {
			row.BBox = datatypes.JSON(data)
		}
	}

	return row
}

func fromRow(row PlateRow) plates.Record {
	record := plates.Record{
		ID:          row.ID,
		UserID:      row.UserID,
		PlateNumber: row.PlateNumber,
		Timestamp:   row.Timestamp,
		Confidence:  row.Confidence,
		IsVerified:  row.IsVerified,
		Synced:      true,
	}

	if row.ImageURL != nil {
		record.ImageURL = *row.ImageURL
	}
	if row.ImageStoragePath != nil {
		record.ImageStoragePath = *row.ImageStoragePath
	}
	if row.Letters != nil {
		record.Letters = *row.Letters
	}
	if row.Numbers != nil {
		record.Numbers = *row.Numbers
	}
	if row.Notes != nil {
		record.Notes = *row.Notes
	}
	if row.Location != nil {
		record.Location = *row.Location
	}
	if row.VehicleType != nil {
		record.VehicleType = *row.VehicleType
	}
	if len(row.BBox) > 0 {
		var bbox []float64
		if err := json.Unmarshal(row.BBox, &bbox); err == nil {
			record.BBox = bbox
		}
	}

	return record
}
