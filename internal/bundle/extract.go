// CLAUDE:SUMMARY Package archives — in-process tar.gz/zip extraction with traversal rejection, size caps, per-file sha256 metadata
package bundle

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
	FormatSkill Format = "skill"
)

var (
	ErrUnsupportedFormat = errors.New("package must be .tar.gz, .tgz, .zip, or .skill file")
	ErrUnsafePath        = errors.New("package entry escapes the archive root")
	ErrTooLarge          = errors.New("package exceeds extraction limits")
)

// Formats in lookup order when reading a stored package.
var Formats = []Format{FormatTarGz, FormatZip, FormatSkill}

// DetectFormat maps an upload filename to its archive format.
func DetectFormat(filename string) (Format, error) {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(name, ".skill"):
		return FormatSkill, nil
	case strings.HasSuffix(name, ".zip"):
		return FormatZip, nil
	}
	return "", ErrUnsupportedFormat
}

type Limits struct {
	MaxFiles     int
	MaxFileBytes int64
	MaxTotal     int64
}

var DefaultLimits = Limits{MaxFiles: 2000, MaxFileBytes: 20 << 20, MaxTotal: 100 << 20}

type FileMeta struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"contentType"`
}

// Bundle is an extracted package held in memory.
type Bundle struct {
	Files []FileMeta
	// Text holds the decoded content of recognised text files by path.
	Text map[string]string
	data map[string][]byte
}

// Read returns the raw bytes of path.
func (b *Bundle) Read(p string) ([]byte, bool) {
	data, ok := b.data[p]
	return data, ok
}

// Find returns the first path whose base name equals name, case-insensitively.
func (b *Bundle) Find(name string) (string, bool) {
	for _, f := range b.Files {
		if strings.EqualFold(path.Base(f.Path), name) {
			return f.Path, true
		}
	}
	return "", false
}

type entry struct {
	name string
	data []byte
}

// Extract unpacks data. A single shared top-level directory is stripped.
func Extract(data []byte, format Format, lim Limits) (*Bundle, error) {
	if lim.MaxFileBytes <= 0 {
		lim.MaxFileBytes = DefaultLimits.MaxFileBytes
	}
	var entries []entry
	var err error
	switch format {
	case FormatTarGz:
		entries, err = readTarGz(data, lim)
	case FormatZip, FormatSkill:
		entries, err = readZip(data, lim)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}

	for i := range entries {
		clean, err := safePath(entries[i].name)
		if err != nil {
			return nil, err
		}
		entries[i].name = clean
	}
	entries = stripCommonRoot(entries)

	b := &Bundle{Text: map[string]string{}, data: map[string][]byte{}}
	for _, e := range entries {
		sum := sha256.Sum256(e.data)
		b.Files = append(b.Files, FileMeta{
			Path:        e.name,
			Size:        int64(len(e.data)),
			SHA256:      hex.EncodeToString(sum[:]),
			ContentType: ContentType(e.name),
		})
		b.data[e.name] = e.data
		if IsTextFile(e.name) && !IsBinary(e.data) {
			b.Text[e.name] = string(e.data)
		}
	}
	sort.Slice(b.Files, func(i, j int) bool { return b.Files[i].Path < b.Files[j].Path })
	return b, nil
}

type budget struct {
	lim   Limits
	files int
	total int64
}

func (bg *budget) read(r io.Reader) ([]byte, error) {
	bg.files++
	if bg.lim.MaxFiles > 0 && bg.files > bg.lim.MaxFiles {
		return nil, fmt.Errorf("%w: more than %d files", ErrTooLarge, bg.lim.MaxFiles)
	}
	data, err := io.ReadAll(io.LimitReader(r, bg.lim.MaxFileBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > bg.lim.MaxFileBytes {
		return nil, fmt.Errorf("%w: file larger than %d bytes", ErrTooLarge, bg.lim.MaxFileBytes)
	}
	bg.total += int64(len(data))
	if bg.lim.MaxTotal > 0 && bg.total > bg.lim.MaxTotal {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, bg.lim.MaxTotal)
	}
	return data, nil
}

func readTarGz(data []byte, lim Limits) ([]entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	bg := &budget{lim: lim}
	var out []entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		body, err := bg.read(tr)
		if err != nil {
			return nil, err
		}
		out = append(out, entry{name: hdr.Name, data: body})
	}
	return out, nil
}

func readZip(data []byte, lim Limits) ([]entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	bg := &budget{lim: lim}
	var out []entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !f.Mode().IsRegular() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		body, err := bg.read(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, entry{name: f.Name, data: body})
	}
	return out, nil
}

// safePath rejects absolute names and any ".." component.
func safePath(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") || (len(name) > 1 && name[1] == ':') {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
		}
	}
	clean := path.Clean(name)
	clean = strings.TrimPrefix(clean, "./")
	if clean == "." || clean == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return clean, nil
}

func stripCommonRoot(entries []entry) []entry {
	if len(entries) == 0 {
		return entries
	}
	root := ""
	for _, e := range entries {
		i := strings.IndexByte(e.name, '/')
		if i < 0 {
			return entries
		}
		if root == "" {
			root = e.name[:i]
		} else if e.name[:i] != root {
			return entries
		}
	}
	for i := range entries {
		entries[i].name = entries[i].name[len(root)+1:]
	}
	return entries
}

var textExts = map[string]bool{
	".md": true, ".json": true, ".yaml": true, ".yml": true, ".txt": true,
	".js": true, ".ts": true, ".py": true, ".sh": true,
}

func IsTextFile(name string) bool {
	return textExts[strings.ToLower(path.Ext(name))]
}

// IsBinary reports a NUL byte in the first 8 KiB.
func IsBinary(data []byte) bool {
	if len(data) > 8192 {
		data = data[:8192]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// ContentType maps an extension to the content type stored in file metadata.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".js", ".ts":
		return "text/javascript"
	case ".py":
		return "text/x-python"
	case ".sh":
		return "text/x-shellscript"
	case ".yaml", ".yml":
		return "text/yaml"
	case ".txt":
		return "text/plain"
	}
	return "application/octet-stream"
}
