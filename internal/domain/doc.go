// Package domain models daily air-quality observations and the records derived
// from them.
//
// # Data Source
//
// Raw measurements arrive as CSV exports, one file per monitoring source. The
// exports disagree on column naming ("PM2.5", "pm2_5", "City Name") and date
// layout, and may repeat observations across files. [Normalize] folds them into
// one canonical table with one row per (city, date).
//
// # Conventions
//
// Column names:
//
//	Headers are trimmed, lower-cased, dots removed and spaces replaced by "_".
//	"PM2.5" → "pm25". Required columns are city, date and aqi.
//
// Dates:
//
//	Day-first layouts are tried before ISO: "02/01/06", "02/01/2006",
//	"2006-01-02", "2006-01-02 15:04:05", RFC 3339. All dates are truncated to
//	UTC midnight. Rows whose date cannot be parsed are dropped.
//
// Pollutants:
//
//	pm25, pm10, no2, so2, co and o3 are optional. Blank or non-numeric cells
//	become SQL-style nulls rather than zero, so a missing pm25 reading never
//	masquerades as clean air in a lag feature.
//
// # Feature Columns
//
// [FeatureColumns] is the single ordered list of numeric model inputs. Training
// and inference both read it; the categorical city indicators are appended by
// the encoder package.
//
// # Errors
//
// [CityNotFoundError] and [SchemaMismatchError] carry the context a caller
// needs (valid cities, expected and actual columns) and match the sentinels
// [ErrCityNotFound] and [ErrSchemaMismatch] through errors.Is.
package domain
