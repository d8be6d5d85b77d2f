package ingest

import (
	"embed"
	"os"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

//go:embed config/columns.yaml
var columnsYAML embed.FS

// Registry lists, for every canonical investor field, the source columns that
// may carry it, in priority order.
type Registry struct {
	Fields []FieldColumns `yaml:"fields"`

	byField map[string][]string
}

type FieldColumns struct {
	Field   string   `yaml:"field"`
	Columns []string `yaml:"columns"`
}

// LoadRegistry reads the embedded column table. A non-empty path replaces it
// with a file from disk.
func LoadRegistry(path string) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = columnsYAML.ReadFile("config/columns.yaml")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read column registry")
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, errors.Wrap(err, "parse column registry")
	}

	reg.byField = make(map[string][]string, len(reg.Fields))
	for _, f := range reg.Fields {
		if !isCanonicalField(f.Field) {
			return nil, errors.Errorf("column registry: unknown field %q", f.Field)
		}
		if len(f.Columns) == 0 {
			return nil, errors.Errorf("column registry: field %q has no columns", f.Field)
		}
		if _, dup := reg.byField[f.Field]; dup {
			return nil, errors.Errorf("column registry: field %q listed twice", f.Field)
		}
		reg.byField[f.Field] = f.Columns
	}
	if _, ok := reg.byField["email"]; !ok {
		return nil, errors.New("column registry: email field is required")
	}
	return &reg, nil
}

// Columns returns the candidate source columns for field.
func (r *Registry) Columns(field string) []string {
	return r.byField[field]
}

// Label is the preferred human-facing column name for field.
func (r *Registry) Label(field string) string {
	if cols := r.byField[field]; len(cols) > 0 {
		return cols[0]
	}
	return field
}
