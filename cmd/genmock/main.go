// Command genmock writes a synthetic grib2json document holding one global
// U/V wind field, for running the tile builder and server without network
// access or a GRIB toolchain.
//
// The field is a pair of westerly jets with a weak easterly trade belt, plus
// a cyclonic vortex so tiles differ visibly by position.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock/wind.json -resolution 1
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

var refTime = time.Date(2024, time.October, 15, 6, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the grib2json fixture")
	resolution := flag.Float64("resolution", 1, "grid spacing in degrees (must divide 180)")
	forecast := flag.Int("forecast", 0, "forecast hour written to the headers")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	field, err := generate(*resolution, *forecast)
	if err != nil {
		return err
	}
	if err := field.Validate(); err != nil {
		return fmt.Errorf("generated field is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.Marshal(field.Records())
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}

	fmt.Printf("Wrote %s: %dx%d grid at %g degrees (%d bytes)\n",
		*out, field.U.Header.Nx, field.U.Header.Ny, *resolution, len(data))
	return nil
}

// generate builds a north-first, west-to-east global grid starting at 0E.
func generate(res float64, forecastHours int) (domain.WindField, error) {
	if res <= 0 || math.Mod(180, res) != 0 {
		return domain.WindField{}, fmt.Errorf("resolution %g must divide 180", res)
	}
	nx := int(360 / res)
	ny := int(180/res) + 1

	header := func(param int, name string) domain.GridHeader {
		return domain.GridHeader{
			RefTime:             refTime,
			ForecastTime:        forecastHours,
			ParameterCategory:   2,
			ParameterNumber:     param,
			ParameterNumberName: name,
			ParameterUnit:       "m.s-1",
			Surface1Type:        103,
			Surface1Value:       10,
			Nx:                  nx,
			Ny:                  ny,
			Lo1:                 0,
			La1:                 90,
			Lo2:                 360 - res,
			La2:                 -90,
			Dx:                  res,
			Dy:                  res,
		}
	}

	u := make([]float64, 0, nx*ny)
	v := make([]float64, 0, nx*ny)
	for r := range ny {
		lat := 90 - float64(r)*res
		for c := range nx {
			lon := float64(c) * res
			du, dv := wind(lat, lon)
			u = append(u, math.Round(du*100)/100)
			v = append(v, math.Round(dv*100)/100)
		}
	}

	return domain.WindField{
		U: domain.GridRecord{Header: header(2, "U-component_of_wind"), Data: u},
		V: domain.GridRecord{Header: header(3, "V-component_of_wind"), Data: v},
	}, nil
}

// wind returns (u, v) in m/s at a point.
func wind(lat, lon float64) (float64, float64) {
	phi := lat * math.Pi / 180

	// Jets near +-45 degrees, easterlies in the tropics.
	u := 25*math.Exp(-math.Pow((math.Abs(lat)-45)/12, 2)) - 6*math.Exp(-math.Pow(lat/15, 2))
	u *= math.Cos(phi)

	// Cyclonic vortex centred at 40N 320E.
	dLon := math.Remainder(lon-320, 360)
	dLat := lat - 40
	dist := math.Hypot(dLon*math.Cos(phi), dLat)
	swirl := 18 * (dist / 8) * math.Exp(1-dist/8) / math.Max(dist, 1e-6)
	u += -swirl * dLat
	v := swirl * dLon * math.Cos(phi)

	return u, v
}
