package templates

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"termcal/internal/model"
)

//go:embed builtin.yaml
var builtinYAML []byte

// Template is a known academic calendar: a named date range with its terms
// and override dates already filled in. Imports that fall inside the range
// start from a copy of Calendar.
type Template struct {
	ID       string
	Name     string
	Start    string
	End      string
	Calendar model.Calendar
}

// Registry is a read-only, versioned set of templates. It is passed to the
// importer explicitly so tests can substitute fixtures.
type Registry struct {
	Version   string
	Templates []Template
}

// Match returns the first template whose range fully contains [start, end].
func (r Registry) Match(start, end string) (Template, bool) {
	for _, t := range r.Templates {
		if start >= t.Start && end <= t.End {
			return t, true
		}
	}
	return Template{}, false
}

// Builtin parses the embedded registry.
func Builtin() (Registry, error) {
	return Load(bytes.NewReader(builtinYAML))
}

// Open loads the registry at path, or the built-in one when path is empty.
func Open(path string) (Registry, error) {
	if path == "" {
		return Builtin()
	}
	f, err := os.Open(path)
	if err != nil {
		return Registry{}, fmt.Errorf("templates: %w", err)
	}
	defer f.Close()
	return Load(f)
}

type fileYAML struct {
	Version   string         `yaml:"version"`
	Templates []templateYAML `yaml:"templates"`
}

type templateYAML struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Start string     `yaml:"start"`
	End   string     `yaml:"end"`
	Terms []termYAML `yaml:"terms"`
}

type termYAML struct {
	ID    string     `yaml:"id"`
	Start string     `yaml:"start"`
	End   string     `yaml:"end"`
	Dates []dateYAML `yaml:"dates"`
}

type dateYAML struct {
	Date    string `yaml:"date"`
	Type    string `yaml:"type"`
	Reason  string `yaml:"reason"`
	Hidden  bool   `yaml:"hidden"`
	Weekday string `yaml:"weekday"`
}

// Load parses a registry from YAML and checks every template for
// well-formed, ordered dates.
func Load(r io.Reader) (Registry, error) {
	var f fileYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Registry{}, fmt.Errorf("templates: %w", err)
	}
	if f.Version == "" {
		return Registry{}, errors.New("templates: missing version")
	}

	reg := Registry{Version: f.Version, Templates: make([]Template, 0, len(f.Templates))}
	seen := make(map[string]bool)
	for _, ty := range f.Templates {
		if ty.ID == "" || seen[ty.ID] {
			return Registry{}, fmt.Errorf("templates: missing or duplicate id %q", ty.ID)
		}
		seen[ty.ID] = true

		t, err := ty.toTemplate()
		if err != nil {
			return Registry{}, fmt.Errorf("templates: %s: %w", ty.ID, err)
		}
		reg.Templates = append(reg.Templates, t)
	}
	return reg, nil
}

func (ty templateYAML) toTemplate() (Template, error) {
	if err := checkRange(ty.Start, ty.End); err != nil {
		return Template{}, err
	}
	t := Template{
		ID:    ty.ID,
		Name:  ty.Name,
		Start: ty.Start,
		End:   ty.End,
		Calendar: model.Calendar{
			Name:  ty.Name,
			Terms: make([]model.Term, 0, len(ty.Terms)),
		},
	}

	for _, tm := range ty.Terms {
		if err := checkRange(tm.Start, tm.End); err != nil {
			return Template{}, fmt.Errorf("term %q: %w", tm.ID, err)
		}
		if tm.Start < ty.Start || tm.End > ty.End {
			return Template{}, fmt.Errorf("term %q lies outside the template range", tm.ID)
		}
		term := model.Term{
			ID:      tm.ID,
			Start:   tm.Start,
			End:     tm.End,
			Courses: []model.Course{},
			Dates:   make(model.Overrides, 0, len(tm.Dates)),
		}
		for _, d := range tm.Dates {
			o, err := d.toOverride()
			if err != nil {
				return Template{}, fmt.Errorf("term %q: %w", tm.ID, err)
			}
			term.Dates = append(term.Dates, o)
		}
		t.Calendar.Terms = append(t.Calendar.Terms, term)
	}
	return t, nil
}

func (d dateYAML) toOverride() (model.OverrideDate, error) {
	if _, err := model.ParseDate(d.Date); err != nil {
		return nil, err
	}
	switch d.Type {
	case model.OverrideNoClass:
		return model.NoClass{Date: d.Date, Reason: d.Reason, Hidden: d.Hidden}, nil
	case model.OverrideFollow:
		w, err := model.ParseWeekday(d.Weekday)
		if err != nil {
			return nil, fmt.Errorf("date %s: %w", d.Date, err)
		}
		return model.Follow{Date: d.Date, Weekday: w}, nil
	default:
		return nil, fmt.Errorf("date %s: unknown type %q", d.Date, d.Type)
	}
}

func checkRange(start, end string) error {
	if _, err := model.ParseDate(start); err != nil {
		return err
	}
	if _, err := model.ParseDate(end); err != nil {
		return err
	}
	if start > end {
		return fmt.Errorf("range %s to %s is reversed", start, end)
	}
	return nil
}
