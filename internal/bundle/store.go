package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var storeNameRe = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

// Store keeps uploaded packages on disk as {id}.{format} plus a versioned
// copy {id}-{version}.{format}.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating packages dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save replaces the current package of id. Stale files in other formats are removed.
func (s *Store) Save(id, version string, format Format, data []byte) error {
	if !storeNameRe.MatchString(id) || (version != "" && !storeNameRe.MatchString(version)) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, id)
	}
	for _, f := range Formats {
		if f != format {
			os.Remove(s.path(id, f))
		}
	}
	if err := writeFile(s.path(id, format), data); err != nil {
		return err
	}
	if version != "" {
		if err := writeFile(s.path(id+"-"+version, format), data); err != nil {
			return err
		}
	}
	return nil
}

// Package is a stored archive. Version is empty when it came from the
// unversioned current copy.
type Package struct {
	Data    []byte
	Format  Format
	Version string
}

// Open returns id's package at version, falling back to the current copy.
func (s *Store) Open(id, version string) (*Package, error) {
	if version != "" {
		pkg, err := s.OpenVersion(id, version)
		if !errors.Is(err, os.ErrNotExist) {
			return pkg, err
		}
	}
	if !storeNameRe.MatchString(id) {
		return nil, os.ErrNotExist
	}
	return s.read(id, "")
}

// OpenVersion returns the copy stored for exactly version.
func (s *Store) OpenVersion(id, version string) (*Package, error) {
	if !storeNameRe.MatchString(id) || !storeNameRe.MatchString(version) {
		return nil, os.ErrNotExist
	}
	return s.read(id+"-"+version, version)
}

func (s *Store) read(name, version string) (*Package, error) {
	for _, f := range Formats {
		data, err := os.ReadFile(s.path(name, f))
		if err == nil {
			return &Package{Data: data, Format: f, Version: version}, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading package: %w", err)
		}
	}
	return nil, os.ErrNotExist
}

// Remove deletes id's current package and every versioned copy.
func (s *Store) Remove(id string) {
	if !storeNameRe.MatchString(id) {
		return
	}
	for _, f := range Formats {
		os.Remove(s.path(id, f))
		copies, _ := filepath.Glob(filepath.Join(s.dir, id+"-*."+string(f)))
		for _, p := range copies {
			os.Remove(p)
		}
	}
}

func (s *Store) path(name string, f Format) string {
	return filepath.Join(s.dir, name+"."+string(f))
}

func writeFile(p string, data []byte) error {
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing package: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("writing package: %w", err)
	}
	return nil
}

// MIMEType is the download content type for a stored format.
func MIMEType(f Format) string {
	if f == FormatTarGz {
		return "application/gzip"
	}
	return "application/zip"
}
