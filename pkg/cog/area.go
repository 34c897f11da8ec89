// CLAUDE:SUMMARY Administrative area model and the Catalog contract (list, ascending, descending, projection) over the French official geographic code.
package cog

import (
	"context"
	"time"
)

// AreaType is the kind of an administrative area, spelled as the catalog spells it.
type AreaType string

const (
	Commune                     AreaType = "Commune"
	ArrondissementMunicipal     AreaType = "ArrondissementMunicipal"
	CommuneAssociee             AreaType = "CommuneAssociee"
	CommuneDeleguee             AreaType = "CommuneDeleguee"
	Departement                 AreaType = "Departement"
	CollectiviteDOutreMer       AreaType = "CollectiviteDOutreMer"
	CirconscriptionTerritoriale AreaType = "CirconscriptionTerritoriale"
	District                    AreaType = "District"
)

// AllDates asks for every historical snapshot.
const AllDates = "*"

var listPaths = map[AreaType]string{
	Commune:                     "communes",
	ArrondissementMunicipal:     "arrondissementsMunicipaux",
	CommuneAssociee:             "communesAssociees",
	CommuneDeleguee:             "communesDeleguees",
	Departement:                 "departements",
	CollectiviteDOutreMer:       "collectivitesDOutreMer",
	CirconscriptionTerritoriale: "circonscriptionsTerritoriales",
	District:                    "districts",
}

var itemPaths = map[AreaType]string{
	Commune:                     "commune",
	ArrondissementMunicipal:     "arrondissementMunicipal",
	CommuneAssociee:             "communeAssociee",
	CommuneDeleguee:             "communeDeleguee",
	Departement:                 "departement",
	CollectiviteDOutreMer:       "collectiviteDOutreMer",
	CirconscriptionTerritoriale: "circonscriptionTerritoriale",
	District:                    "district",
}

// SubAreaTypes are the city subdivisions mapped onto their parent city.
var SubAreaTypes = []AreaType{ArrondissementMunicipal, CommuneAssociee, CommuneDeleguee}

// Area is one versioned administrative area. A code identifies a single
// active area at a given date but may be reused across time.
type Area struct {
	Code        string   `json:"code"`
	URI         string   `json:"uri,omitempty"`
	Type        AreaType `json:"type"`
	Label       string   `json:"intitule"`
	LabelShort  string   `json:"intituleSansArticle,omitempty"`
	ArticleType string   `json:"typeArticle,omitempty"`
	Created     string   `json:"dateCreation,omitempty"`
	Deleted     string   `json:"dateSuppression,omitempty"`
	// Parent is the enclosing city (sub-areas) or collectivity (overseas cities).
	Parent string `json:"parent,omitempty"`
}

// Catalog gives read access to the official geographic code.
type Catalog interface {
	// ListAreas returns every area of type t valid at date (YYYY-MM-DD or AllDates).
	ListAreas(ctx context.Context, t AreaType, date string) ([]Area, error)
	// Ascending returns the code of the parentType area containing code at date, or "".
	Ascending(ctx context.Context, code string, t AreaType, date string, parentType AreaType) (string, error)
	// Descending returns the childType areas contained in code at date.
	Descending(ctx context.Context, code string, t AreaType, date string, childType AreaType) ([]Area, error)
	// Project returns the area valid at target that code (valid at date) became,
	// or nil when the catalog knows no projection.
	Project(ctx context.Context, code string, t AreaType, date, target string) (*Area, error)
}

// YearDate returns January 1st of year as YYYY-MM-DD.
func YearDate(year int) string {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
}
