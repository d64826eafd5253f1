package persona

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownVoices lists the prebuilt voice names the live API currently
// offers. Used to warn about likely typos; an unknown voice is not an
// error, since new voices ship without a release here.
var KnownVoices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// Load reads the YAML persona file at path and returns the builtin
// registry overlaid with its entries. It is a convenience wrapper
// around [LoadFromReader].
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open %q: %w", path, err)
	}
	defer f.Close()

	reg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("persona: parse %q: %w", path, err)
	}
	return reg, nil
}

// LoadFromReader decodes a YAML persona file from r, validates it,
// and overlays it onto the builtin registry: an entry whose ID matches
// a builtin replaces it, any other entry is appended in file order.
// Useful in tests where files are constructed from string literals.
func LoadFromReader(r io.Reader) (*Registry, error) {
	var file personaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("persona: decode yaml: %w", err)
	}
	if err := validate(file.Personas); err != nil {
		return nil, err
	}

	reg := Builtin()
	for _, p := range file.Personas {
		reg.put(p)
	}
	return reg, nil
}

// validate checks the file entries and returns a joined error listing
// every failure found. Unknown voice names only warn.
func validate(personas []Persona) error {
	var errs []error
	seen := make(map[string]int, len(personas))

	for i, p := range personas {
		prefix := fmt.Sprintf("personas[%d]", i)
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := seen[p.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of personas[%d]", prefix, p.ID, prev))
			}
			seen[p.ID] = i
		}
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if strings.TrimSpace(p.VoiceName) == "" {
			errs = append(errs, fmt.Errorf("%s.voice is required", prefix))
		} else if !slices.Contains(KnownVoices, p.VoiceName) {
			slog.Warn("unknown voice name, may be a typo or a newly added voice",
				"persona", p.ID,
				"voice", p.VoiceName,
				"known", KnownVoices,
			)
		}
	}

	return errors.Join(errs...)
}
