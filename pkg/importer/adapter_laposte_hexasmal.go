package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/french-cities/pkg/postal"
)

func init() {
	Register(&hexasmalAdapter{})
}

type hexasmalAdapter struct{}

func (a *hexasmalAdapter) ID() string          { return "laposte-hexasmal" }
func (a *hexasmalAdapter) Target() string      { return TargetPostal }
func (a *hexasmalAdapter) Description() string { return "La Poste, base officielle des codes postaux" }
func (a *hexasmalAdapter) DefaultURL() string  { return postal.DefaultHexasmalURL }
func (a *hexasmalAdapter) License() string     { return "ODbL" }

func (a *hexasmalAdapter) Import(ctx context.Context, sourceURL string, env *Env) error {
	if env.Postal == nil {
		return fmt.Errorf("%s: no postal store", a.ID())
	}
	dlDir := filepath.Join(env.WorkDir, "_download")
	if err := ensureDir(dlDir); err != nil {
		return err
	}
	defer os.RemoveAll(dlDir)

	env.logger().Info("downloading postcode table", "url", sourceURL)
	path, err := fetch(ctx, sourceURL, dlDir, "hexasmal.csv", "hexasmal")
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := postal.ParseHexasmal(f)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("parse: no postcode in %s", sourceURL)
	}
	if err := env.Postal.Replace(ctx, records); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	env.logger().Info("postcode table imported", "records", len(records))

	return writeManifest(filepath.Join(env.WorkDir, "imports"), &Manifest{
		ID:         a.ID(),
		Target:     a.Target(),
		SourceURL:  sourceURL,
		License:    a.License(),
		Records:    len(records),
		ImportedAt: time.Now().UTC().Format(time.RFC3339),
	})
}
