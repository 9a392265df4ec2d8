package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// GRIB2 codes for the wind components (discipline 0, category 2).
const (
	windCategory   = 2
	windParameterU = 2
	windParameterV = 3
)

// GridHeader is the grib2json record header. Only the fields tile consumers
// read are modelled.
type GridHeader struct {
	Discipline          int       `json:"discipline"`
	RefTime             time.Time `json:"refTime"`
	ForecastTime        int       `json:"forecastTime"`
	ParameterCategory   int       `json:"parameterCategory"`
	ParameterNumber     int       `json:"parameterNumber"`
	ParameterNumberName string    `json:"parameterNumberName,omitempty"`
	ParameterUnit       string    `json:"parameterUnit,omitempty"`
	Surface1Type        int       `json:"surface1Type"`
	Surface1Value       float64   `json:"surface1Value"`
	Nx                  int       `json:"nx"`
	Ny                  int       `json:"ny"`
	Lo1                 float64   `json:"lo1"`
	La1                 float64   `json:"la1"`
	Lo2                 float64   `json:"lo2"`
	La2                 float64   `json:"la2"`
	Dx                  float64   `json:"dx"`
	Dy                  float64   `json:"dy"`
}

// GridRecord is one grib2json record: a header and row-major values.
type GridRecord struct {
	Header GridHeader `json:"header"`
	Data   []float64  `json:"data"`
}

// WindField pairs the eastward (U) and northward (V) components on one grid.
// Rows run north to south, columns west to east.
type WindField struct {
	U GridRecord
	V GridRecord
}

// DecodeWindField reads grib2json output and extracts the U and V records.
// Other records are ignored; a missing component is an error.
func DecodeWindField(r io.Reader) (WindField, error) {
	var records []GridRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return WindField{}, fmt.Errorf("decode wind records: %w", err)
	}

	var (
		field        WindField
		haveU, haveV bool
	)
	for _, rec := range records {
		if rec.Header.ParameterCategory != windCategory {
			continue
		}
		switch rec.Header.ParameterNumber {
		case windParameterU:
			field.U, haveU = rec, true
		case windParameterV:
			field.V, haveV = rec, true
		}
	}
	if !haveU || !haveV {
		return WindField{}, errors.New("decode wind records: U and V components are both required")
	}

	field.U = northFirst(field.U)
	field.V = northFirst(field.V)
	if err := field.Validate(); err != nil {
		return WindField{}, err
	}
	return field, nil
}

// Validate checks that both components describe the same complete grid.
func (w WindField) Validate() error {
	u, v := w.U.Header, w.V.Header
	if u.Nx <= 0 || u.Ny <= 0 {
		return fmt.Errorf("invalid grid size %dx%d", u.Nx, u.Ny)
	}
	if u.Dx <= 0 || u.Dy <= 0 {
		return fmt.Errorf("invalid grid spacing %gx%g", u.Dx, u.Dy)
	}
	if u.Nx != v.Nx || u.Ny != v.Ny || u.Lo1 != v.Lo1 || u.La1 != v.La1 || u.Dx != v.Dx || u.Dy != v.Dy {
		return errors.New("U and V grids differ")
	}
	n := u.Nx * u.Ny
	if len(w.U.Data) != n || len(w.V.Data) != n {
		return fmt.Errorf("expected %d values per component, got U=%d V=%d", n, len(w.U.Data), len(w.V.Data))
	}
	return nil
}

// Records returns the payload shape tiles are served in.
func (w WindField) Records() []GridRecord {
	return []GridRecord{w.U, w.V}
}

// Points is the number of grid points per component.
func (w WindField) Points() int {
	return w.U.Header.Nx * w.U.Header.Ny
}

func (w WindField) global() bool {
	h := w.U.Header
	return math.Abs(float64(h.Nx)*h.Dx-360) < h.Dx/2
}

// northFirst flips records scanned south to north so every field shares the
// same row order. Malformed records are returned as is for Validate to reject.
func northFirst(rec GridRecord) GridRecord {
	h := rec.Header
	if h.La1 >= h.La2 || h.Nx <= 0 || len(rec.Data) != h.Nx*h.Ny {
		return rec
	}
	data := make([]float64, 0, len(rec.Data))
	for r := h.Ny - 1; r >= 0; r-- {
		data = append(data, rec.Data[r*h.Nx:(r+1)*h.Nx]...)
	}
	h.La1, h.La2 = h.La2, h.La1
	return GridRecord{Header: h, Data: data}
}
