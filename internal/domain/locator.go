package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Wind variables requested from upstream. UGRD is eastward, VGRD northward.
var windVariables = []string{"UGRD", "VGRD"}

// SourceDescriptor is the fully resolved upstream location of one file.
type SourceDescriptor struct {
	Run    RunTime
	Branch Branch
	URL    string
}

// Locator builds NOMADS grib filter URLs. It holds no state beyond its
// configuration and never touches the network.
type Locator struct {
	BaseURL    string // e.g. https://nomads.ncep.noaa.gov/cgi-bin
	Resolution string // 0p25, 0p50 or 1p00
}

// Describe returns the descriptor for one (run, level, forecast) combination.
// Identical inputs always produce an identical URL: url.Values encodes keys in
// sorted order.
func (l Locator) Describe(run RunTime, b Branch) SourceDescriptor {
	q := url.Values{}
	q.Set("file", fmt.Sprintf("gfs.t%sz.pgrb2.%s.%s", run.Cycle(), l.Resolution, b.Forecast.Code()))
	q.Set(b.Level.Selector, "on")
	for _, v := range windVariables {
		q.Set("var_"+v, "on")
	}
	q.Set("leftlon", "0")
	q.Set("rightlon", "360")
	q.Set("toplat", "90")
	q.Set("bottomlat", "-90")
	q.Set("dir", fmt.Sprintf("/gfs.%s/%s/atmos", run.Date(), run.Cycle()))

	base := strings.TrimRight(l.BaseURL, "/")
	return SourceDescriptor{
		Run:    run,
		Branch: b,
		URL:    fmt.Sprintf("%s/filter_gfs_%s.pl?%s", base, l.Resolution, q.Encode()),
	}
}
