package sdf

import "sort"

// Value types after normalisation. "integer" is folded into number.
const (
	TypeNumber  = "number"
	TypeString  = "string"
	TypeBoolean = "boolean"
)

// Attribute is one typed property of a module.
type Attribute struct {
	Name        string
	Type        string
	Description string
	Unit        string
}

// Module is one functional sub-unit declared for a device class.
type Module struct {
	Name        string
	Description string
	Attributes  map[string]Attribute
}

// AttributeNames returns the module's attribute names, sorted.
func (m Module) AttributeNames() []string {
	return sortedKeys(m.Attributes)
}

// Schema is the structured description of one device class.
type Schema struct {
	Class       string
	Description string
	Modules     map[string]Module
}

// Module looks up a module by name.
func (s *Schema) Module(name string) (Module, bool) {
	m, ok := s.Modules[name]
	return m, ok
}

// ModuleNames returns the declared module names, sorted.
func (s *Schema) ModuleNames() []string {
	return sortedKeys(s.Modules)
}

// Attribute looks up module/attribute in one step.
func (s *Schema) Attribute(module, attribute string) (Attribute, bool) {
	m, ok := s.Modules[module]
	if !ok {
		return Attribute{}, false
	}
	a, ok := m.Attributes[attribute]
	return a, ok
}

// Row is one attribute of one class, flattened for similarity scoring.
type Row struct {
	Class         string `json:"class"`
	ClassDesc     string `json:"class_desc"`
	Module        string `json:"module"`
	ModuleDesc    string `json:"module_desc"`
	Attribute     string `json:"attribute"`
	AttributeDesc string `json:"attribute_desc"`
	ValueType     string `json:"value_type"`
	Unit          string `json:"unit,omitempty"`
}

// Text is the string compared between rows: "attribute description".
func (r Row) Text() string {
	return r.Attribute + " " + r.AttributeDesc
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
