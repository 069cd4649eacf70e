// Package source parses declarative source definition files. A file lists
// what to ingest, into which namespace and with what policy weight.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/gitignore"
	"github.com/saagar210/AssistSupport-sub002/internal/validation"
)

// Type is the closed set of source kinds.
type Type string

const (
	// TypeFolder walks a directory on disk.
	TypeFolder Type = "folder"
	// TypeURLs fetches a list of HTTPS URLs.
	TypeURLs Type = "urls"
)

// Types lists every valid Type.
var Types = []Type{TypeFolder, TypeURLs}

// DefaultWeight is the policy weight of a source that does not set one.
const DefaultWeight = 1.0

// Definition is one validated source. It is not modified after parsing.
type Definition struct {
	Type Type

	// Location is the folder for TypeFolder, made absolute against the
	// definition file's directory.
	Location string

	// URLs is the list for TypeURLs.
	URLs []string

	// Namespace is normalized and valid.
	Namespace string
	Weight    float64

	// Include and Exclude are gitignore-syntax patterns, relative to Location.
	Include []string
	Exclude []string
}

// Format is a definition file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", kberrors.New(kberrors.ErrCodeSourceDefinition,
			fmt.Sprintf("unsupported source file extension %q (use .yaml, .yml or .toml)", filepath.Ext(path)), nil)
	}
}

// rawFile mirrors the file so that absent fields can be told from empty ones.
// Unknown fields are ignored.
type rawFile struct {
	Sources []rawSource `yaml:"sources" toml:"sources"`
}

type rawSource struct {
	Type      *string  `yaml:"type" toml:"type"`
	Location  *string  `yaml:"location" toml:"location"`
	URLs      []string `yaml:"urls" toml:"urls"`
	Namespace *string  `yaml:"namespace" toml:"namespace"`
	Weight    *float64 `yaml:"weight" toml:"weight"`
	Include   []string `yaml:"include" toml:"include"`
	Exclude   []string `yaml:"exclude" toml:"exclude"`
}

// ParseFile reads and validates the definition file at path.
func ParseFile(path string) ([]Definition, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeConfigNotFound, "failed to read source file", err).WithDetail("path", path)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeSourceDefinition, "failed to resolve source file directory", err)
	}
	defs, err := Parse(data, format, abs)
	if err != nil {
		if kb, ok := kberrors.As(err); ok {
			return nil, kb.WithDetail("path", path)
		}
		return nil, err
	}
	return defs, nil
}

// ParseFiles parses several files and concatenates their sources.
func ParseFiles(paths []string) ([]Definition, error) {
	var all []Definition
	for _, p := range paths {
		defs, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, defs...)
	}
	return all, nil
}

// Parse decodes and validates data. Relative folder locations resolve
// against baseDir.
func Parse(data []byte, format Format, baseDir string) ([]Definition, error) {
	var raw rawFile
	var err error
	switch format {
	case FormatYAML:
		err = yaml.NewDecoder(bytes.NewReader(data)).Decode(&raw)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatTOML:
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, kberrors.New(kberrors.ErrCodeSourceDefinition, fmt.Sprintf("unknown source format %q", format), nil)
	}
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeSourceDefinition, "malformed source file: "+err.Error(), err)
	}
	if len(raw.Sources) == 0 {
		return nil, kberrors.New(kberrors.ErrCodeSourceDefinition, "no sources defined", nil).
			WithSuggestion("Add a 'sources:' list with at least one entry")
	}

	defs := make([]Definition, 0, len(raw.Sources))
	for i, rs := range raw.Sources {
		def, err := rs.validate(fmt.Sprintf("sources[%d]", i), baseDir)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func missing(field string) error {
	return kberrors.New(kberrors.ErrCodeSourceMissingField, field+": required field missing", nil)
}

func invalid(field, msg string) error {
	return kberrors.New(kberrors.ErrCodeSourceDefinition, field+": "+msg, nil)
}

func (rs rawSource) validate(at, baseDir string) (Definition, error) {
	if rs.Type == nil || strings.TrimSpace(*rs.Type) == "" {
		return Definition{}, missing(at + ".type")
	}
	def := Definition{
		Type:    Type(strings.ToLower(strings.TrimSpace(*rs.Type))),
		Weight:  DefaultWeight,
		Include: rs.Include,
		Exclude: rs.Exclude,
	}

	switch def.Type {
	case TypeFolder:
		if rs.Location == nil || strings.TrimSpace(*rs.Location) == "" {
			return Definition{}, missing(at + ".location")
		}
		def.Location = resolveLocation(strings.TrimSpace(*rs.Location), baseDir)
	case TypeURLs:
		if len(rs.URLs) == 0 {
			return Definition{}, missing(at + ".urls")
		}
		for j, u := range rs.URLs {
			u = strings.TrimSpace(u)
			if err := validation.ValidateHTTPSURL(u); err != nil {
				return Definition{}, invalid(fmt.Sprintf("%s.urls[%d]", at, j), err.Error())
			}
			def.URLs = append(def.URLs, u)
		}
	default:
		return Definition{}, invalid(at+".type", fmt.Sprintf("unknown source type %q (valid: folder, urls)", def.Type))
	}

	if _, err := gitignore.FromPatterns(def.Include); err != nil {
		return Definition{}, invalid(at+".include", err.Error())
	}
	if _, err := gitignore.FromPatterns(def.Exclude); err != nil {
		return Definition{}, invalid(at+".exclude", err.Error())
	}

	if rs.Namespace == nil {
		return Definition{}, missing(at + ".namespace")
	}
	ns, err := validation.NormalizeAndValidateNamespace(*rs.Namespace)
	if err != nil {
		return Definition{}, invalid(at+".namespace", err.Error())
	}
	def.Namespace = ns

	if rs.Weight != nil {
		w := *rs.Weight
		if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
			return Definition{}, invalid(at+".weight", fmt.Sprintf("must be a positive number, got %v", w))
		}
		def.Weight = w
	}
	return def, nil
}

// resolveLocation expands a leading ~ and makes relative paths absolute
// against baseDir. Containment is checked at ingest time.
func resolveLocation(loc, baseDir string) string {
	if loc == "~" || strings.HasPrefix(loc, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			loc = filepath.Join(home, strings.TrimPrefix(loc, "~"))
		}
	}
	if !filepath.IsAbs(loc) && baseDir != "" {
		loc = filepath.Join(baseDir, loc)
	}
	return filepath.Clean(loc)
}
