// CLAUDE:SUMMARY Shared import utilities: HTTP download with retries, ZIP extraction, import manifest YAML writer, directory helpers.
package importer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest records what an import loaded.
type Manifest struct {
	ID         string `yaml:"id"`
	Target     string `yaml:"target"`
	SourceURL  string `yaml:"source_url"`
	License    string `yaml:"license"`
	Vintage    string `yaml:"vintage,omitempty"`
	Records    int    `yaml:"records"`
	ImportedAt string `yaml:"imported_at"`
}

// downloadFile downloads url to dest with retries and timeout.
func downloadFile(ctx context.Context, url, dest string) error {
	client := &http.Client{Timeout: 10 * time.Minute}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
			continue
		}

		f, err := os.Create(dest)
		if err != nil {
			resp.Body.Close()
			return fmt.Errorf("create file: %w", err)
		}

		_, copyErr := io.Copy(f, resp.Body)
		resp.Body.Close()
		closeErr := f.Close()

		if copyErr != nil {
			lastErr = copyErr
			continue
		}
		if closeErr != nil {
			return closeErr
		}
		return nil
	}
	return fmt.Errorf("download %s failed after 3 attempts: %w", url, lastErr)
}

// unzipFile extracts a ZIP archive to destDir and returns the list of extracted file paths.
func unzipFile(src, destDir string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var paths []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}

		destPath := filepath.Join(destDir, filepath.Base(f.Name))
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}

		out, err := os.Create(destPath)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("create %s: %w", destPath, err)
		}

		if _, err := io.Copy(out, rc); err != nil {
			rc.Close()
			out.Close()
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		rc.Close()
		out.Close()
		paths = append(paths, destPath)
	}
	return paths, nil
}

// fetch downloads sourceURL into dir and returns the path of the data file.
// ZIP archives are extracted and the first entry whose name contains match
// (case-insensitive) is returned.
func fetch(ctx context.Context, sourceURL, dir, name, match string) (string, error) {
	dest := filepath.Join(dir, name)
	if err := downloadFile(ctx, sourceURL, dest); err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	if !isZip(dest) {
		return dest, nil
	}
	paths, err := unzipFile(dest, dir)
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		if strings.Contains(strings.ToLower(filepath.Base(p)), match) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no %q entry in archive %s", match, sourceURL)
}

func isZip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return string(magic) == "PK\x03\x04"
}

// writeManifest writes m as YAML to dir/<id>.yaml.
func writeManifest(dir string, m *Manifest) error {
	if err := ensureDir(dir); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, m.ID+".yaml"), data, 0o644)
}

// LoadManifest reads a manifest written by a previous import.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// ensureDir creates a directory if it doesn't exist.
func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
