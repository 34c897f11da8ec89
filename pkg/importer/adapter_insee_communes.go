package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/french-cities/pkg/cog"
)

func init() {
	Register(&inseeCommunesAdapter{})
}

// inseeCommunesAdapter loads the yearly COG commune file as the commune list
// of its vintage, sparing the catalog API that request.
type inseeCommunesAdapter struct{}

func (a *inseeCommunesAdapter) ID() string          { return "insee-communes-fr" }
func (a *inseeCommunesAdapter) Target() string      { return TargetAreas }
func (a *inseeCommunesAdapter) Description() string { return "INSEE COG communes de France" }
func (a *inseeCommunesAdapter) DefaultURL() string {
	return "https://www.insee.fr/fr/statistiques/fichier/7766585/v_commune_2024.csv"
}
func (a *inseeCommunesAdapter) License() string { return "Licence Ouverte 2.0" }

var vintageInName = regexp.MustCompile(`(19|20)\d{2}`)

// vintageOf reads the COG year from the file name, defaulting to the current year.
func vintageOf(sourceURL string) int {
	if m := vintageInName.FindAllString(path.Base(sourceURL), -1); len(m) > 0 {
		if y, err := strconv.Atoi(m[len(m)-1]); err == nil {
			return y
		}
	}
	return time.Now().Year()
}

func (a *inseeCommunesAdapter) Import(ctx context.Context, sourceURL string, env *Env) error {
	if env.Cache == nil {
		return fmt.Errorf("%s: no cache store", a.ID())
	}
	dlDir := filepath.Join(env.WorkDir, "_download")
	if err := ensureDir(dlDir); err != nil {
		return err
	}
	defer os.RemoveAll(dlDir)

	env.logger().Info("downloading communes", "url", sourceURL)
	csvPath, err := fetch(ctx, sourceURL, dlDir, "communes.csv", "commune")
	if err != nil {
		return err
	}
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	areas, err := parseINSEECommunes(f)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	year := vintageOf(sourceURL)
	date := cog.YearDate(year)
	if err := cog.Preload(ctx, env.Cache, cog.Commune, date, areas); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	env.logger().Info("communes imported", "date", date, "records", len(areas))

	return writeManifest(filepath.Join(env.WorkDir, "imports"), &Manifest{
		ID:         a.ID(),
		Target:     a.Target(),
		SourceURL:  sourceURL,
		License:    a.License(),
		Vintage:    date,
		Records:    len(areas),
		ImportedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// parseINSEECommunes reads the INSEE COG CSV (comma-delimited).
// Columns include: TYPECOM, COM, LIBELLE, DEP.
func parseINSEECommunes(r io.Reader) ([]cog.Area, error) {
	cr := csv.NewReader(r)
	cr.Comma = ','
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	libelleCol, comCol, typecomCol := -1, -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.ToUpper(strings.TrimPrefix(h, "\ufeff"))) {
		case "LIBELLE":
			libelleCol = i
		case "NCCENR":
			if libelleCol < 0 {
				libelleCol = i
			}
		case "COM":
			comCol = i
		case "TYPECOM":
			typecomCol = i
		}
	}
	if libelleCol < 0 || comCol < 0 {
		return nil, fmt.Errorf("no code or name column found in header %v", header)
	}

	var areas []cog.Area
	seen := make(map[string]bool)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if libelleCol >= len(record) || comCol >= len(record) {
			continue
		}
		// Only keep actual communes (TYPECOM = COM).
		if typecomCol >= 0 && typecomCol < len(record) {
			if tc := strings.TrimSpace(record[typecomCol]); tc != "" && tc != "COM" {
				continue
			}
		}
		code := strings.TrimSpace(record[comCol])
		name := strings.TrimSpace(record[libelleCol])
		if code == "" || name == "" || seen[code] {
			continue
		}
		seen[code] = true
		areas = append(areas, cog.Area{Code: code, Type: cog.Commune, Label: name})
	}
	return areas, nil
}
