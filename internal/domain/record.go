package domain

import (
	"database/sql"
	"time"

	"github.com/couchcryptid/aqi-forecast/internal/risk"
)

// RawTable is one heterogeneous source file before normalization.
type RawTable struct {
	Source string
	Header []string
	Rows   [][]string
}

// CanonicalRecord is a single (city, date) observation after normalization.
// AQI is always finite; pollutants are null when the source did not report them.
type CanonicalRecord struct {
	City string
	Date time.Time
	AQI  float64
	PM25 sql.NullFloat64
	PM10 sql.NullFloat64
	NO2  sql.NullFloat64
	SO2  sql.NullFloat64
	CO   sql.NullFloat64
	O3   sql.NullFloat64
}

// FeatureRow extends a canonical record with calendar, lag and rolling fields.
// Persisted feature rows are dense: rows with any undefined derived field are
// dropped by the feature builder.
type FeatureRow struct {
	CanonicalRecord

	Month     int
	DayOfWeek int // Monday=0 … Sunday=6
	DayOfYear int

	AQILag1  float64
	AQILag3  float64
	AQILag7  float64
	PM25Lag1 float64
	PM25Lag3 float64
	PM25Lag7 float64
	AQIRoll7 float64
}

// FeatureColumn names one numeric model input and how to read and write it on
// a row.
type FeatureColumn struct {
	Name  string
	Value func(FeatureRow) float64
	Set   func(*FeatureRow, float64)
}

// FeatureColumns is the ordered list of numeric model inputs. Label (aqi), date
// and same-day pollutant readings are deliberately absent.
var FeatureColumns = []FeatureColumn{
	{
		Name:  "month",
		Value: func(r FeatureRow) float64 { return float64(r.Month) },
		Set:   func(r *FeatureRow, v float64) { r.Month = int(v) },
	},
	{
		Name:  "day_of_week",
		Value: func(r FeatureRow) float64 { return float64(r.DayOfWeek) },
		Set:   func(r *FeatureRow, v float64) { r.DayOfWeek = int(v) },
	},
	{
		Name:  "day_of_year",
		Value: func(r FeatureRow) float64 { return float64(r.DayOfYear) },
		Set:   func(r *FeatureRow, v float64) { r.DayOfYear = int(v) },
	},
	{
		Name:  "aqi_lag_1",
		Value: func(r FeatureRow) float64 { return r.AQILag1 },
		Set:   func(r *FeatureRow, v float64) { r.AQILag1 = v },
	},
	{
		Name:  "pm25_lag_1",
		Value: func(r FeatureRow) float64 { return r.PM25Lag1 },
		Set:   func(r *FeatureRow, v float64) { r.PM25Lag1 = v },
	},
	{
		Name:  "aqi_lag_3",
		Value: func(r FeatureRow) float64 { return r.AQILag3 },
		Set:   func(r *FeatureRow, v float64) { r.AQILag3 = v },
	},
	{
		Name:  "pm25_lag_3",
		Value: func(r FeatureRow) float64 { return r.PM25Lag3 },
		Set:   func(r *FeatureRow, v float64) { r.PM25Lag3 = v },
	},
	{
		Name:  "aqi_lag_7",
		Value: func(r FeatureRow) float64 { return r.AQILag7 },
		Set:   func(r *FeatureRow, v float64) { r.AQILag7 = v },
	},
	{
		Name:  "pm25_lag_7",
		Value: func(r FeatureRow) float64 { return r.PM25Lag7 },
		Set:   func(r *FeatureRow, v float64) { r.PM25Lag7 = v },
	},
	{
		Name:  "aqi_roll_7",
		Value: func(r FeatureRow) float64 { return r.AQIRoll7 },
		Set:   func(r *FeatureRow, v float64) { r.AQIRoll7 = v },
	},
}

// FeatureColumnNames returns the names of FeatureColumns in order.
func FeatureColumnNames() []string {
	names := make([]string, len(FeatureColumns))
	for i, c := range FeatureColumns {
		names[i] = c.Name
	}
	return names
}

// CanonicalColumns is the header of the canonical table.
var CanonicalColumns = []string{"city", "date", "aqi", "pm25", "pm10", "no2", "so2", "co", "o3"}

// FeatureTableColumns is the header of the persisted feature table: the
// canonical columns followed by the model inputs.
func FeatureTableColumns() []string {
	return append(append([]string(nil), CanonicalColumns...), FeatureColumnNames()...)
}

// Pollutants returns the nullable pollutant readings of r in CanonicalColumns
// order (pm25 through o3).
func (r *CanonicalRecord) Pollutants() []*sql.NullFloat64 {
	return []*sql.NullFloat64{&r.PM25, &r.PM10, &r.NO2, &r.SO2, &r.CO, &r.O3}
}

// LeakageColumns are canonical fields that must never reach a model: the date
// and same-day pollutant readings that would not exist at forecast time.
var LeakageColumns = []string{"date", "pm25", "pm10", "no2", "so2", "co", "o3"}

// LabelColumn is the training target.
const LabelColumn = "aqi"

// DateLayout is the on-disk date format of canonical and feature tables.
const DateLayout = "2006-01-02"

// ForecastResult is the response for a single city forecast. Floats are
// rounded to two decimals.
type ForecastResult struct {
	City              string        `json:"city"`
	Group             risk.Group    `json:"group"`
	AsOf              string        `json:"as_of"`
	PredictedAQI      float64       `json:"predicted_aqi"`
	Category          risk.Category `json:"category"`
	RiskScore         float64       `json:"risk_score"`
	GroupAdjustedRisk float64       `json:"group_adjusted_risk"`
	Advisory          string        `json:"advisory"`
}
