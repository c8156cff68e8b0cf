// Command genmock writes synthetic raw air-quality exports for local runs and
// fixture tests. The exports mimic the upstream quirks the normalizer has to
// handle: day-first dates, "PM2.5"-style headers, NA markers, blank columns and
// a second export overlapping the first. It then runs the real normalizer and
// feature builder over the output and prints the counts tests assert on.
//
// Usage:
//
//	go run ./cmd/genmock -out data/raw -days 365
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/features"
)

var baseDate = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

// cityDef sets the level and seasonal swing of a synthetic city.
type cityDef struct {
	name  string
	level float64
	swing float64
}

var cities = []cityDef{
	{name: "Bengaluru", level: 75, swing: 20},
	{name: "Delhi", level: 190, swing: 110},
	{name: "Kolkata", level: 120, swing: 70},
	{name: "Mumbai", level: 95, swing: 45},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "directory for the generated CSV exports")
	days := flag.Int("days", 365, "days of history per city")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	if *out == "" || *days < 1 {
		flag.Usage()
		return fmt.Errorf("missing required flags: -out, -days")
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	primary, overlap := generate(rng, *days)

	if err := writeCSV(filepath.Join(*out, "city_day.csv"), primary); err != nil {
		return fmt.Errorf("writing city_day.csv: %w", err)
	}
	if err := writeCSV(filepath.Join(*out, "station_day_extra.csv"), overlap); err != nil {
		return fmt.Errorf("writing station_day_extra.csv: %w", err)
	}
	log.Printf("wrote %d + %d rows to %s", len(primary)-1, len(overlap)-1, *out)

	return printStats([]domain.RawTable{
		{Source: "city_day.csv", Header: primary[0], Rows: primary[1:]},
		{Source: "station_day_extra.csv", Header: overlap[0], Rows: overlap[1:]},
	})
}

// generate returns the primary export and a smaller export whose first rows
// duplicate the primary's last days with different values.
func generate(rng *rand.Rand, days int) (primary, overlap [][]string) {
	primary = [][]string{{"City", "Date", "PM2.5", "PM10", "NO2", "SO2", "CO", "O3", "AQI", "AQI_Bucket", "Xylene"}}
	overlap = [][]string{{"city", "date", "pm2_5", "aqi"}}

	for _, c := range cities {
		aqi := c.level
		for d := range days {
			date := baseDate.AddDate(0, 0, d)
			season := c.swing * math.Cos(2*math.Pi*float64(date.YearDay()-15)/365)
			aqi = 0.7*aqi + 0.3*(c.level+season) + rng.NormFloat64()*8
			aqi = math.Max(aqi, 5)
			pm25 := aqi*0.55 + rng.NormFloat64()*4

			row := []string{
				c.name,
				date.Format("02/01/06"),
				cell(rng, pm25, 0.03),
				cell(rng, pm25*1.8, 0.05),
				cell(rng, 20+rng.Float64()*30, 0.05),
				cell(rng, 5+rng.Float64()*10, 0.08),
				cell(rng, 0.5+rng.Float64(), 0.05),
				cell(rng, 25+rng.Float64()*20, 0.05),
				cell(rng, aqi, 0.01),
				"",
				"",
			}
			primary = append(primary, row)

			if d >= days-5 {
				overlap = append(overlap, []string{
					c.name, date.Format(domain.DateLayout), format(pm25 + 10), format(aqi + 25),
				})
			}
		}
	}
	return primary, overlap
}

// cell formats v, replacing it with an NA marker with probability pMissing.
func cell(rng *rand.Rand, v, pMissing float64) string {
	if rng.Float64() < pMissing {
		return "NA"
	}
	return format(v)
}

func format(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func writeCSV(path string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Sync()
}

func printStats(tables []domain.RawTable) error {
	records, nstats, err := domain.Normalize(tables)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	rows, fstats := features.Build(records)

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Raw rows: %d\n", nstats.Read)
	fmt.Printf("Canonical rows: %d\n", nstats.Kept)

	reasons := make([]string, 0, len(nstats.Dropped))
	for r := range nstats.Dropped {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("  dropped %s: %d\n", r, nstats.Dropped[r])
	}

	fmt.Printf("Feature rows: %d\n", fstats.Output)
	for _, c := range cities {
		fmt.Printf("  %s: dropped %d for incomplete windows\n", c.name, fstats.Dropped[c.name])
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		fmt.Printf("Last row: %s %s aqi=%g roll7=%g\n", last.City, last.Date.Format(domain.DateLayout), last.AQI, last.AQIRoll7)
	}
	return nil
}
