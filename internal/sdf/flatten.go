package sdf

import "fmt"

// skippedProperty is the identity property every object carries; it never
// describes telemetry.
const skippedProperty = "uuid"

// documentSchema is the minimum shape a resolved description must have.
const documentSchema = `{
  "type": "object",
  "required": ["sdfThing"],
  "properties": {
    "sdfThing": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["sdfObject"],
        "properties": {
          "description": {"type": "string"},
          "sdfObject": {
            "type": "object",
            "additionalProperties": {
              "type": "object",
              "required": ["sdfProperty"],
              "properties": {
                "description": {"type": "string"},
                "sdfProperty": {
                  "type": "object",
                  "additionalProperties": {
                    "type": "object",
                    "required": ["type"],
                    "properties": {
                      "type": {"enum": ["number", "integer", "string", "boolean"]},
                      "description": {"type": "string"},
                      "unit": {"type": "string"}
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

// flatten builds the Schema of class and the Rows of every thing in doc.
func flatten(class string, doc any) (*Schema, []Row, error) {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s: document is not an object", ErrMalformedSchema, class)
	}
	things, ok := root["sdfThing"].(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s: missing sdfThing", ErrMalformedSchema, class)
	}
	if _, ok := things[class].(map[string]any); !ok {
		return nil, nil, fmt.Errorf("%w: %s: sdfThing does not describe %q", ErrMalformedSchema, class, class)
	}

	var schema *Schema
	var rows []Row

	for _, thingName := range sortedKeys(things) {
		thing, ok := things[thingName].(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s: thing %q is not an object", ErrMalformedSchema, class, thingName)
		}
		s, err := buildSchema(thingName, thing)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrMalformedSchema, class, err)
		}
		if thingName == class {
			schema = s
		}
		rows = append(rows, s.Rows()...)
	}

	return schema, rows, nil
}

func buildSchema(name string, thing map[string]any) (*Schema, error) {
	s := &Schema{
		Class:       name,
		Description: stringField(thing, "description"),
		Modules:     make(map[string]Module),
	}

	objects, _ := thing["sdfObject"].(map[string]any)
	for modName, raw := range objects {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("module %s/%s is not an object", name, modName)
		}
		mod := Module{
			Name:        modName,
			Description: stringField(obj, "description"),
			Attributes:  make(map[string]Attribute),
		}

		props, _ := obj["sdfProperty"].(map[string]any)
		for attrName, raw := range props {
			if attrName == skippedProperty {
				continue
			}
			prop, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("attribute %s/%s/%s is not an object", name, modName, attrName)
			}
			valueType, err := normaliseType(stringField(prop, "type"))
			if err != nil {
				return nil, fmt.Errorf("attribute %s/%s/%s: %w", name, modName, attrName, err)
			}
			mod.Attributes[attrName] = Attribute{
				Name:        attrName,
				Type:        valueType,
				Description: stringField(prop, "description"),
				Unit:        stringField(prop, "unit"),
			}
		}
		s.Modules[modName] = mod
	}

	return s, nil
}

// Rows flattens the schema into one Row per attribute, ordered by module
// then attribute.
func (s *Schema) Rows() []Row {
	var rows []Row
	for _, modName := range s.ModuleNames() {
		mod := s.Modules[modName]
		for _, attrName := range mod.AttributeNames() {
			attr := mod.Attributes[attrName]
			rows = append(rows, Row{
				Class:         s.Class,
				ClassDesc:     s.Description,
				Module:        modName,
				ModuleDesc:    mod.Description,
				Attribute:     attrName,
				AttributeDesc: attr.Description,
				ValueType:     attr.Type,
				Unit:          attr.Unit,
			})
		}
	}
	return rows
}

func normaliseType(t string) (string, error) {
	switch t {
	case TypeNumber, "integer":
		return TypeNumber, nil
	case TypeString:
		return TypeString, nil
	case TypeBoolean:
		return TypeBoolean, nil
	default:
		return "", fmt.Errorf("unsupported type %q", t)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
