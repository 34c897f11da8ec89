package cityfinder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrConfig reports unusable options: bad year, unknown projection or no
// usable column group.
var ErrConfig = errors.New("cityfinder: invalid configuration")

// DefaultOutput is the output column used when Options.Output is empty.
const DefaultOutput = "insee_com"

// Columns names the input columns. An empty name marks the field as absent.
type Columns struct {
	X        string `json:"x,omitempty" yaml:"x"`
	Y        string `json:"y,omitempty" yaml:"y"`
	Dep      string `json:"dep,omitempty" yaml:"dep"`
	City     string `json:"city,omitempty" yaml:"city"`
	Address  string `json:"address,omitempty" yaml:"address"`
	Postcode string `json:"postcode,omitempty" yaml:"postcode"`
}

// DefaultColumns returns the conventional column names.
func DefaultColumns() Columns {
	return Columns{X: "x", Y: "y", Dep: "dep", City: "city", Address: "address", Postcode: "postcode"}
}

// Options drive FindCity.
type Options struct {
	// Year is the target vintage: "last" (or empty) or an integer year.
	Year string
	// Columns maps the logical fields. The zero value means DefaultColumns.
	Columns Columns
	// Output is the column receiving city codes (DefaultOutput when empty).
	Output string
	// EPSG identifies the coordinate system of X and Y. Zero disables geolocation.
	EPSG int
	// UseNominatim enables the OpenStreetMap last-resort stage.
	UseNominatim bool
}

// parseYear returns the target year and whether it is the current one.
func parseYear(year string, now int) (int, bool, error) {
	year = strings.TrimSpace(year)
	if year == "" || year == "last" {
		return now, true, nil
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return 0, false, fmt.Errorf("%w: year should be an integer or \"last\", found %q", ErrConfig, year)
	}
	return y, y == now, nil
}
