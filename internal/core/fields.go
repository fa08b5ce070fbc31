package core

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType represents the expected shape of a target field's value.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldEmail   FieldType = "email"
	FieldPhone   FieldType = "phone"
	FieldPostal  FieldType = "postal"
	FieldInteger FieldType = "integer"
	FieldDate    FieldType = "date"
	FieldEnum    FieldType = "enum"
)

// Target field names of the customer record. FieldNavn and FieldAdresse are
// the two required fields that gate the mapping step.
const (
	FieldNavn        = "navn"
	FieldAdresse     = "adresse"
	FieldEpost       = "epost"
	FieldTelefon     = "telefon"
	FieldPostnummer  = "postnummer"
	FieldPoststed    = "poststed"
	FieldKundenummer = "kundenummer"
	FieldKategori    = "kategori"
	FieldKundeSiden  = "kunde_siden"
	FieldNotat       = "notat"
)

// CatalogVersion is baked into classifier cache keys so cached suggestions
// invalidate when the catalog changes.
const CatalogVersion = "v1"

// FieldSpec defines one target field: its type, whether mapping it is
// mandatory, and the header aliases the deterministic heuristics match.
type FieldSpec struct {
	Name       string    `json:"name"`
	Label      string    `json:"label"`
	Type       FieldType `json:"type"`
	Required   bool      `json:"required"`
	EnumValues []string  `json:"enum_values,omitempty"`
	Aliases    []string  `json:"-"`
}

// fieldCatalog is the fixed target catalog for customer roster imports.
// Aliases are attached from the embedded YAML at init.
var fieldCatalog = []FieldSpec{
	{Name: FieldNavn, Label: "Kundenavn", Type: FieldString, Required: true},
	{Name: FieldAdresse, Label: "Adresse", Type: FieldString, Required: true},
	{Name: FieldEpost, Label: "E-post", Type: FieldEmail},
	{Name: FieldTelefon, Label: "Telefon", Type: FieldPhone},
	{Name: FieldPostnummer, Label: "Postnummer", Type: FieldPostal},
	{Name: FieldPoststed, Label: "Poststed", Type: FieldString},
	{Name: FieldKundenummer, Label: "Kundenummer", Type: FieldInteger},
	{Name: FieldKategori, Label: "Kategori", Type: FieldEnum,
		EnumValues: []string{"privat", "bedrift", "borettslag", "offentlig"}},
	{Name: FieldKundeSiden, Label: "Kunde siden", Type: FieldDate},
	{Name: FieldNotat, Label: "Notat", Type: FieldString},
}

var fieldsByName map[string]*FieldSpec

//go:embed aliases.yaml
var aliasesYAML []byte

type aliasDoc struct {
	Fields []struct {
		Field   string   `yaml:"field"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"fields"`
}

func init() {
	fieldsByName = make(map[string]*FieldSpec, len(fieldCatalog))
	for i := range fieldCatalog {
		fieldsByName[fieldCatalog[i].Name] = &fieldCatalog[i]
	}

	var doc aliasDoc
	if err := yaml.Unmarshal(aliasesYAML, &doc); err != nil {
		panic(fmt.Sprintf("core: malformed alias catalog: %v", err))
	}
	for _, entry := range doc.Fields {
		spec, ok := fieldsByName[entry.Field]
		if !ok {
			panic(fmt.Sprintf("core: alias catalog references unknown field %q", entry.Field))
		}
		spec.Aliases = entry.Aliases
	}
	for _, spec := range fieldCatalog {
		if len(spec.Aliases) == 0 {
			panic(fmt.Sprintf("core: field %q has no aliases", spec.Name))
		}
	}
}

// Fields returns the full target field catalog in display order.
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(fieldCatalog))
	copy(out, fieldCatalog)
	return out
}

// FieldByName looks up a catalog field. Returns nil for unknown names.
// The returned spec is a copy; callers cannot mutate the catalog through it.
func FieldByName(name string) *FieldSpec {
	spec, ok := fieldsByName[name]
	if !ok {
		return nil
	}
	out := *spec
	return &out
}

// RequiredFieldNames returns the fields that must be mapped to distinct
// source columns before validation may run.
func RequiredFieldNames() []string {
	var out []string
	for _, spec := range fieldCatalog {
		if spec.Required {
			out = append(out, spec.Name)
		}
	}
	return out
}

// FieldNames returns all catalog field names.
func FieldNames() []string {
	out := make([]string, len(fieldCatalog))
	for i, spec := range fieldCatalog {
		out[i] = spec.Name
	}
	return out
}

// foldHeader normalizes a header for alias comparison: lowercase, trimmed,
// inner whitespace collapsed to single spaces.
func foldHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(h))), " ")
}

// fieldByAlias returns the catalog field whose alias list contains the
// folded header, or nil when no alias matches exactly.
func fieldByAlias(header string) *FieldSpec {
	folded := foldHeader(header)
	for i := range fieldCatalog {
		for _, alias := range fieldCatalog[i].Aliases {
			if foldHeader(alias) == folded {
				out := fieldCatalog[i]
				return &out
			}
		}
	}
	return nil
}
