package plates

import (
	"time"
)

// NoPlateNumber is the sentinel plate number assigned when the detector
// finds nothing in an image.
const NoPlateNumber = "NO_PLATE_DETECTED"

// Record is one detected plate event with its metadata. The JSON shape
// matches the export/import file format: camelCase keys, optional fields
// omitted when empty.
type Record struct {
	ID               string    `json:"id"`
	PlateNumber      string    `json:"plateNumber"`
	Timestamp        time.Time `json:"timestamp"`
	ImageURL         string    `json:"imageUrl"`
	ImageStoragePath string    `json:"imageStoragePath,omitempty"`
	Confidence       float64   `json:"confidence"`
	Letters          string    `json:"letters"`
	Numbers          string    `json:"numbers"`
	BBox             []float64 `json:"bbox,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	Location         string    `json:"location,omitempty"`
	VehicleType      string    `json:"vehicleType,omitempty"`
	IsVerified       bool      `json:"isVerified,omitempty"`
	UserID           string    `json:"userId,omitempty"`
	Synced           bool      `json:"syncedToSupabase"`
}

// RecordUpdate carries a partial edit. Nil fields are left untouched.
type RecordUpdate struct {
	PlateNumber *string    `json:"plateNumber,omitempty"`
	Letters     *string    `json:"letters,omitempty"`
	Numbers     *string    `json:"numbers,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	Location    *string    `json:"location,omitempty"`
	VehicleType *string    `json:"vehicleType,omitempty"`
	IsVerified  *bool      `json:"isVerified,omitempty"`
	ImageURL    *string    `json:"imageUrl,omitempty"`
	Confidence  *float64   `json:"confidence,omitempty"`
	BBox        *[]float64 `json:"bbox,omitempty"`
}

// Apply merges the update into a copy of the record.
func (u RecordUpdate) Apply(r Record) Record {
	if u.PlateNumber != nil {
		r.PlateNumber = *u.PlateNumber
	}
	if u.Letters != nil {
		r.Letters = *u.Letters
	}
	if u.Numbers != nil {
		r.Numbers = *u.Numbers
	}
	if u.Notes != nil {
		r.Notes = *u.Notes
	}
	if u.Location != nil {
		r.Location = *u.Location
	}
	if u.VehicleType != nil {
		r.VehicleType = *u.VehicleType
	}
	if u.IsVerified != nil {
		r.IsVerified = *u.IsVerified
	}
	if u.ImageURL != nil {
		r.ImageURL = *u.ImageURL
	}
	if u.Confidence != nil {
		r.Confidence = *u.Confidence
	}
	if u.BBox != nil {
		r.BBox = *u.BBox
	}
	return r
}

// DetectedPlate is one plate as reported by the recognition service.
type DetectedPlate struct {
	BBox    []float64 `json:"bbox"`
	RawText []string  `json:"raw_text"`
	Letters string    `json:"letters"`
	Numbers string    `json:"numbers"`
}

// DetectResponse is the recognition service's wire response.
type DetectResponse struct {
	Count  int             `json:"count"`
	Plates []DetectedPlate `json:"plates"`
}
