package domain

import (
	"fmt"
	"math"
	"path"
	"strconv"
)

// TileKey addresses one tile in the published tree.
type TileKey struct {
	Level    string
	Forecast string
	Zoom     int
	X        int
	Y        int
}

// Path is the slash separated location of the tile below the tiles root,
// "500mb/f006/1/0/1.json".
func (k TileKey) Path() string {
	return path.Join(k.Level, k.Forecast, strconv.Itoa(k.Zoom), strconv.Itoa(k.X), strconv.Itoa(k.Y)+".json")
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%s/%d/%d/%d", k.Level, k.Forecast, k.Zoom, k.X, k.Y)
}

// Valid reports whether the coordinates exist at the key's zoom level.
func (k TileKey) Valid(maxZoom int) bool {
	if k.Zoom < 0 || k.Zoom > maxZoom {
		return false
	}
	n := TilesPerAxis(k.Zoom)
	return k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// TilesPerAxis is the number of tiles along each axis at zoom z.
func TilesPerAxis(z int) int {
	return 1 << z
}

// TilesPerBranch is the total tile count for zooms 0 through maxZoom.
func TilesPerBranch(maxZoom int) int {
	total := 0
	for z := 0; z <= maxZoom; z++ {
		n := TilesPerAxis(z)
		total += n * n
	}
	return total
}

// BranchKeys enumerates every tile key of one branch, zoom outermost.
func BranchKeys(b Branch, maxZoom int) []TileKey {
	keys := make([]TileKey, 0, TilesPerBranch(maxZoom))
	for z := 0; z <= maxZoom; z++ {
		n := TilesPerAxis(z)
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				keys = append(keys, TileKey{Level: b.Level.ID, Forecast: b.Forecast.ID, Zoom: z, X: x, Y: y})
			}
		}
	}
	return keys
}

// Bounds is a geographic box in degrees. Longitudes are half open [West, East),
// latitudes (South, North], except the southernmost row which includes -90.
type Bounds struct {
	West  float64 `json:"west"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
	South float64 `json:"south"`
}

// TileBounds splits the globe into an equirectangular 2^z by 2^z grid. x grows
// eastward from -180, y grows southward from 90.
func TileBounds(z, x, y int) Bounds {
	n := float64(TilesPerAxis(z))
	w := -180 + float64(x)*360/n
	north := 90 - float64(y)*180/n
	return Bounds{West: w, East: w + 360/n, North: north, South: north - 180/n}
}

const spanEpsilon = 1e-9

// Tile returns the part of the field covering tile (z, x, y), decimated so no
// axis exceeds maxPoints. Every tile carries at least one point per axis and
// values are rounded to two decimals.
func (w WindField) Tile(z, x, y, maxPoints int) (WindField, error) {
	n := TilesPerAxis(z)
	if z < 0 || x < 0 || x >= n || y < 0 || y >= n {
		return WindField{}, fmt.Errorf("tile %d/%d/%d out of range", z, x, y)
	}
	if maxPoints < 1 {
		maxPoints = 1
	}

	h := w.U.Header
	b := TileBounds(z, x, y)
	global := w.global()

	lo1 := h.Lo1
	if !global {
		lo1 = math.Mod(lo1+540, 360) - 180
	}
	colStart, colCount := span(b.West, b.East, lo1, h.Dx, false)
	rowStart, rowCount := span(h.La1-b.North, h.La1-b.South, 0, h.Dy, b.South <= -90)

	if global {
		colCount = min(colCount, h.Nx)
	} else {
		colStart, colCount = clampSpan(colStart, colCount, h.Nx)
	}
	rowStart, rowCount = clampSpan(rowStart, rowCount, h.Ny)
	if colCount < 1 {
		colStart, colCount = nearest((b.West+b.East)/2, lo1, h.Dx, h.Nx, global), 1
	}
	if rowCount < 1 {
		rowStart, rowCount = nearest(h.La1-(b.North+b.South)/2, 0, h.Dy, h.Ny, false), 1
	}

	colStride := stride(colCount, maxPoints)
	rowStride := stride(rowCount, maxPoints)
	nx := (colCount + colStride - 1) / colStride
	ny := (rowCount + rowStride - 1) / rowStride

	sub := h
	sub.Nx, sub.Ny = nx, ny
	sub.Dx = h.Dx * float64(colStride)
	sub.Dy = h.Dy * float64(rowStride)
	sub.Lo1 = lo1 + float64(colStart)*h.Dx
	sub.Lo2 = sub.Lo1 + float64(nx-1)*sub.Dx
	sub.La1 = h.La1 - float64(rowStart)*h.Dy
	sub.La2 = sub.La1 - float64(ny-1)*sub.Dy

	pick := func(rec GridRecord) GridRecord {
		hdr := sub
		hdr.ParameterNumber = rec.Header.ParameterNumber
		hdr.ParameterNumberName = rec.Header.ParameterNumberName
		hdr.ParameterUnit = rec.Header.ParameterUnit
		data := make([]float64, 0, nx*ny)
		for j := 0; j < ny; j++ {
			row := rowStart + j*rowStride
			for i := 0; i < nx; i++ {
				col := colStart + i*colStride
				if global {
					col = ((col % h.Nx) + h.Nx) % h.Nx
				}
				data = append(data, round2(rec.Data[row*h.Nx+col]))
			}
		}
		return GridRecord{Header: hdr, Data: data}
	}
	return WindField{U: pick(w.U), V: pick(w.V)}, nil
}

// span returns the first index and count of points origin+i*step that fall in
// [from, to), or [from, to] when inclusive is set.
func span(from, to, origin, step float64, inclusive bool) (int, int) {
	start := int(math.Ceil((from-origin)/step - spanEpsilon))
	end := int(math.Ceil((to-origin)/step - spanEpsilon))
	if inclusive {
		end = int(math.Floor((to-origin)/step+spanEpsilon)) + 1
	}
	return start, end - start
}

func clampSpan(start, count, size int) (int, int) {
	end := min(start+count, size)
	start = max(start, 0)
	return start, end - start
}

func nearest(v, origin, step float64, size int, wrap bool) int {
	i := int(math.Round((v - origin) / step))
	if wrap {
		return i
	}
	return min(max(i, 0), size-1)
}

func stride(count, maxPoints int) int {
	return max(1, (count+maxPoints-1)/maxPoints)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
