// Package domain models GFS wind data and the tile tree derived from it.
//
// # Data Source
//
// Wind fields come from the NOAA Global Forecast System (GFS), published four
// times a day by NCEP and served through the NOMADS grib filter endpoints at
// https://nomads.ncep.noaa.gov/. The filter returns a GRIB2 subset containing
// only the requested variables and levels, so one download per
// (level, forecast) pair is a few hundred kilobytes at 1 degree resolution.
//
// # GFS Conventions
//
// Run time:
//
//	Runs start at 00, 06, 12 and 18 UTC. A run's files appear upstream a few
//	hours after its nominal time; [ResolveRunTime] subtracts that delay before
//	picking the latest publication hour, rolling back to the previous day's
//	18z run in the early hours.
//
// Forecast offsets:
//
//	Lead times are encoded with a fixed width three digit code: "f000" is the
//	analysis, "f006" the six hour forecast. The same code appears in the
//	upstream filename (gfs.t06z.pgrb2.1p00.f006) and in the tile path.
//
// Levels:
//
//	NOMADS selects vertical levels with "lev_*" query flags, e.g.
//	lev_10_m_above_ground (surface winds), lev_850_mb, lev_500_mb.
//	The compiled-in catalog (catalog.yaml) maps stable level IDs to those
//	selectors.
//
// Variables:
//
//	UGRD (eastward, GRIB2 discipline 0 / category 2 / parameter 2) and
//	VGRD (northward, parameter 3), both in m/s.
//
// # Intermediate Format
//
// The converter emits grib2json-style JSON: an array of records, each with a
// "header" describing the grid (nx, ny, lo1, la1, dx, dy, refTime,
// forecastTime, parameter codes) and a flat "data" array in scan order
// (west to east within a row, rows north to south). [DecodeWindField] pairs the
// U and V records into a [WindField].
//
// # Tiles
//
// Tiles use an equirectangular pyramid. Zoom z has 2^z columns spanning
// longitude -180..180 and 2^z rows spanning latitude 90..-90. Each tile payload
// is the same two-record grib2json shape restricted to the tile window and
// decimated to a bounded number of points per axis; see [WindField.Tile].
package domain
