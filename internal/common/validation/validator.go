package validation

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const draft07 = "http://json-schema.org/draft-07/schema#"

// StepField is the pseudo field carrying step-level errors.
const StepField = "_step"

// Compiled is a StepSchema with its JSON Schema document loaded once.
type Compiled struct {
	schema StepSchema

	once    sync.Once
	js      *gojsonschema.Schema
	loadErr error
}

// Compile prepares a step schema for repeated validation.
func Compile(s StepSchema) (*Compiled, error) {
	c := &Compiled{schema: s}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustCompile is Compile for package-level catalogs.
func MustCompile(s StepSchema) *Compiled {
	c, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Compiled) load() error {
	c.once.Do(func() {
		c.js, c.loadErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(ToJSONSchema(c.schema)))
		if c.loadErr != nil {
			c.loadErr = fmt.Errorf("compile schema %s: %w", c.schema.Name, c.loadErr)
		}
	})
	return c.loadErr
}

// Schema returns the declarative policy this validator was built from.
func (c *Compiled) Schema() StepSchema {
	return c.schema
}

// Validate runs the three stages shared by every step: normalization, JSON
// Schema evaluation and the minimum-fill count.
func (c *Compiled) Validate(record map[string]interface{}) *ValidationResult {
	doc := Normalize(c.schema, record)
	for _, f := range c.schema.Fields {
		if f.Conditional() && !f.When.Holds(doc) {
			delete(doc, f.Key)
		}
	}

	var errs []ValidationError
	if err := c.load(); err != nil {
		errs = append(errs, ValidationError{Field: StepField, Message: err.Error(), Code: "SCHEMA_ERROR"})
	} else {
		result, err := c.js.Validate(gojsonschema.NewGoLoader(doc))
		if err != nil {
			errs = append(errs, ValidationError{Field: StepField, Message: err.Error(), Code: "SCHEMA_ERROR"})
		} else if !result.Valid() {
			errs = append(errs, convertErrors(result.Errors())...)
		}
	}

	base := c.schema.BaseFields()
	filled := 0
	for _, f := range base {
		if _, ok := doc[f.Key]; ok {
			filled++
		}
	}
	if filled < c.schema.MinFilled {
		errs = append(errs, ValidationError{
			Field:   StepField,
			Message: fmt.Sprintf("fill at least %d of %d fields (%d filled)", c.schema.MinFilled, len(base), filled),
			Code:    "MIN_FILLED_VIOLATION",
		})
	}

	return &ValidationResult{
		Valid:     len(errs) == 0,
		Errors:    errs,
		Filled:    filled,
		Total:     len(base),
		MinFilled: c.schema.MinFilled,
	}
}

// ValidateStep compiles s and validates record in one call.
func ValidateStep(s StepSchema, record map[string]interface{}) *ValidationResult {
	c := &Compiled{schema: s}
	return c.Validate(record)
}

// Normalize keeps the schema's fields that carry a value, with text trimmed.
// Empty strings, empty selections and untouched defaults are dropped.
func Normalize(s StepSchema, record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(s.Fields))
	for _, f := range s.Fields {
		v, ok := record[f.Key]
		if !ok || IsEmpty(f, v) {
			continue
		}
		if str, ok := v.(string); ok {
			v = strings.TrimSpace(str)
		}
		out[f.Key] = v
	}
	return out
}

// IsEmpty reports whether v counts as unanswered for f.
func IsEmpty(f FieldSpec, v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		if strings.TrimSpace(val) == "" {
			return true
		}
	case []interface{}:
		if len(val) == 0 {
			return true
		}
	case []string:
		if len(val) == 0 {
			return true
		}
	}
	if f.Default == nil {
		return false
	}
	if a, ok := toFloat(v); ok {
		if b, ok := toFloat(f.Default); ok {
			return a == b
		}
	}
	return reflect.DeepEqual(v, f.Default)
}

// ToJSONSchema renders the declarative schema as a draft-07 document.
// Conditional fields become if/then clauses.
func ToJSONSchema(s StepSchema) map[string]interface{} {
	props := make(map[string]interface{}, len(s.Fields))
	required := []string{}
	allOf := []interface{}{}

	for _, f := range s.Fields {
		props[f.Key] = property(f)
		switch {
		case f.Conditional():
			allOf = append(allOf, map[string]interface{}{
				"if":   condition(*f.When),
				"then": map[string]interface{}{"required": []string{f.Key}},
			})
		case f.Required:
			required = append(required, f.Key)
		}
	}

	doc := map[string]interface{}{
		"$schema":              draft07,
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	if len(allOf) > 0 {
		doc["allOf"] = allOf
	}
	return doc
}

func property(f FieldSpec) map[string]interface{} {
	p := map[string]interface{}{}
	switch f.Kind {
	case KindNumber:
		p["type"] = "number"
		if f.Min != nil {
			p["minimum"] = *f.Min
		}
		if f.Max != nil {
			p["maximum"] = *f.Max
		}
	case KindChoice:
		p["type"] = "string"
		if len(f.Enum) > 0 {
			p["enum"] = f.Enum
		}
	case KindMulti:
		items := map[string]interface{}{"type": "string"}
		if len(f.Enum) > 0 {
			items["enum"] = f.Enum
		}
		p["type"] = "array"
		p["items"] = items
	default:
		p["type"] = "string"
	}
	if f.MinLength > 0 && (f.Kind == KindText || f.Kind == "") {
		p["minLength"] = f.MinLength
	}
	return p
}

func condition(c Condition) map[string]interface{} {
	var ctrl map[string]interface{}
	if c.AtLeast != nil {
		ctrl = map[string]interface{}{"type": "number", "minimum": *c.AtLeast}
	} else {
		ctrl = map[string]interface{}{"const": c.Equals}
	}
	return map[string]interface{}{
		"properties": map[string]interface{}{c.Field: ctrl},
		"required":   []string{c.Field},
	}
}

// wrapper errors that only repeat what their nested errors already say
var skippedErrorTypes = map[string]bool{
	"condition_then": true,
	"condition_else": true,
	"number_all_of":  true,
	"number_any_of":  true,
	"number_one_of":  true,
}

func convertErrors(in []gojsonschema.ResultError) []ValidationError {
	seen := make(map[string]bool, len(in))
	out := make([]ValidationError, 0, len(in))
	for _, re := range in {
		if skippedErrorTypes[re.Type()] {
			continue
		}
		field := re.Field()
		if re.Type() == "required" {
			if p, ok := re.Details()["property"].(string); ok {
				field = p
			}
		}
		code := errorCode(re.Type())
		key := field + "|" + code
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ValidationError{Field: field, Message: re.Description(), Code: code})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func errorCode(resultType string) string {
	switch resultType {
	case "required":
		return "REQUIRED_FIELD_MISSING"
	case "string_gte":
		return "MIN_LENGTH_VIOLATION"
	case "number_gte":
		return "MINIMUM_VIOLATION"
	case "number_lte":
		return "MAXIMUM_VIOLATION"
	case "enum":
		return "INVALID_ENUM_VALUE"
	case "invalid_type":
		return "INVALID_TYPE"
	default:
		return strings.ToUpper(resultType)
	}
}
