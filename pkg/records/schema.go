package records

import (
	"fmt"
	"slices"
	"strings"
)

// Column maps a record field to its CSV header label.
type Column struct {
	Field  string `json:"field" yaml:"field" toml:"field"`
	Header string `json:"header" yaml:"header" toml:"header"`
}

// Dependent names a collection whose records reference a parent key
// through Field. Dependents are removed by a cascade delete.
type Dependent struct {
	Collection string `json:"collection" yaml:"collection" toml:"collection"`
	Field      string `json:"field" yaml:"field" toml:"field"`
}

// Schema describes one record collection.
type Schema struct {
	Name        string              `json:"name" yaml:"name" toml:"name"`
	KeyField    string              `json:"key_field" yaml:"key_field" toml:"key_field"`
	Columns     []Column            `json:"columns" yaml:"columns" toml:"columns"`
	Required    []string            `json:"required" yaml:"required" toml:"required"`
	SearchField string              `json:"search_field" yaml:"search_field" toml:"search_field"`
	Scored      bool                `json:"scored" yaml:"scored" toml:"scored"`
	Dependents  []Dependent         `json:"dependents" yaml:"dependents" toml:"dependents"`
	KeyPrefix   string              `json:"key_prefix" yaml:"key_prefix" toml:"key_prefix"`
	Defaults    map[string]string   `json:"defaults" yaml:"defaults" toml:"defaults"`
	Allowed     map[string][]string `json:"allowed" yaml:"allowed" toml:"allowed"`
}

// Fields returns the column field names in column order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Field
	}
	return out
}

// Headers returns the column header labels in column order.
func (s *Schema) Headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Header
	}
	return out
}

// IsRequired reports whether field must be non-empty.
func (s *Schema) IsRequired(field string) bool {
	return field == s.KeyField || slices.Contains(s.Required, field)
}

// searchField returns the designated free-text field.
func (s *Schema) searchField() string {
	if s.SearchField != "" {
		return s.SearchField
	}
	return "name"
}

// validate checks the schema definition itself.
func (s *Schema) validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if s.KeyField == "" {
		return fmt.Errorf("schema %s: key field is required", s.Name)
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if c.Field == "" {
			return fmt.Errorf("schema %s: column with empty field", s.Name)
		}
		if seen[c.Field] {
			return fmt.Errorf("schema %s: duplicate column %s", s.Name, c.Field)
		}
		seen[c.Field] = true
	}
	if len(s.Columns) > 0 && !seen[s.KeyField] {
		return fmt.Errorf("schema %s: key field %s has no column", s.Name, s.KeyField)
	}
	return nil
}

// withDefaults returns a copy of fields with empty values filled from Defaults.
func (s *Schema) withDefaults(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+len(s.Defaults))
	for k, v := range fields {
		merged[k] = v
	}
	for k, v := range s.Defaults {
		if merged[k] == "" {
			merged[k] = v
		}
	}
	return merged
}

// Normalize returns the field set as it is stored: values trimmed, empty
// values dropped and the key field left out, since the record key carries it.
func (s *Schema) Normalize(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == s.KeyField {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// Check validates a record the way UpsertRecord would: the key must be
// present and the defaulted fields must pass the required and allowed checks.
func (s *Schema) Check(key string, fields map[string]string) error {
	if strings.TrimSpace(key) == "" {
		return NewValidationError("record key is required").WithCollection(s.Name).WithField(s.KeyField)
	}
	return s.checkFields(key, s.withDefaults(s.Normalize(fields)))
}

// checkFields validates a merged field set against required and allowed values.
func (s *Schema) checkFields(key string, fields map[string]string) error {
	for _, f := range s.Required {
		if f == s.KeyField {
			continue
		}
		if strings.TrimSpace(fields[f]) == "" {
			return NewValidationError("required field is empty").
				WithCollection(s.Name).WithKey(key).WithField(f)
		}
	}
	for f, allowed := range s.Allowed {
		v, ok := fields[f]
		if !ok || v == "" {
			continue
		}
		if !slices.Contains(allowed, v) {
			return NewValidationError(fmt.Sprintf("value %q not allowed (want one of %s)", v, strings.Join(allowed, ", "))).
				WithCollection(s.Name).WithKey(key).WithField(f)
		}
	}
	return nil
}

// Registry holds the known collection schemas.
type Registry struct {
	schemas map[string]*Schema
	order   []string
}

// NewRegistry builds a registry, rejecting invalid or duplicate schemas and
// dependents that point at unknown collections.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.schemas[s.Name]; dup {
			return nil, fmt.Errorf("duplicate schema %s", s.Name)
		}
		r.schemas[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	for _, s := range schemas {
		for _, d := range s.Dependents {
			if _, ok := r.schemas[d.Collection]; !ok {
				return nil, fmt.Errorf("schema %s: dependent collection %s is not registered", s.Name, d.Collection)
			}
		}
	}
	return r, nil
}

// Get returns the schema for a collection.
func (r *Registry) Get(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns collection names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Counseling statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Departments and Positions are the directory's standard category values.
var (
	Departments = []string{
		"Computer Science", "Mathematics", "Physics", "Chemistry",
		"Biology", "Engineering", "Business", "Literature",
	}
	Positions = []string{
		"Professor", "Associate Professor", "Assistant Professor",
		"Lecturer", "Emeritus Professor",
	}
)

// ProfessorSchema is the professor directory.
func ProfessorSchema() *Schema {
	return &Schema{
		Name:     "professors",
		KeyField: "professor_id",
		Columns: []Column{
			{Field: "professor_id", Header: "Professor ID"},
			{Field: "name", Header: "Name"},
			{Field: "department", Header: "Department"},
			{Field: "position", Header: "Position"},
			{Field: "specialization", Header: "Specialization"},
			{Field: "email", Header: "Email"},
			{Field: "phone", Header: "Phone"},
			{Field: "office", Header: "Office"},
		},
		Required:  []string{"professor_id", "name", "department", "position"},
		KeyPrefix: "P",
	}
}

// StudentSchema is the student directory. Students own score history.
func StudentSchema() *Schema {
	return &Schema{
		Name:     "students",
		KeyField: "student_id",
		Columns: []Column{
			{Field: "student_id", Header: "Student ID"},
			{Field: "name", Header: "Name"},
			{Field: "class", Header: "Class"},
			{Field: "major", Header: "Major"},
		},
		Required:  []string{"student_id", "name", "class", "major"},
		Scored:    true,
		KeyPrefix: "S",
	}
}

// CounselingSchema is the counseling request tracker.
func CounselingSchema() *Schema {
	return &Schema{
		Name:     "counselings",
		KeyField: "counseling_id",
		Columns: []Column{
			{Field: "counseling_id", Header: "Counseling ID"},
			{Field: "title", Header: "Title"},
			{Field: "content", Header: "Content"},
			{Field: "student_id", Header: "Student ID"},
			{Field: "professor_id", Header: "Professor ID"},
			{Field: "status", Header: "Status"},
			{Field: "priority", Header: "Priority"},
			{Field: "category", Header: "Category"},
		},
		Required:    []string{"counseling_id", "title", "student_id"},
		SearchField: "title",
		Dependents:  []Dependent{{Collection: "feedbacks", Field: "counseling_id"}},
		KeyPrefix:   "counseling",
		Defaults:    map[string]string{"status": StatusPending, "priority": "normal"},
		Allowed: map[string][]string{
			"status":   {StatusPending, StatusInProgress, StatusCompleted},
			"priority": {"low", "normal", "high"},
		},
	}
}

// FeedbackSchema holds professor feedback on counseling requests.
func FeedbackSchema() *Schema {
	return &Schema{
		Name:     "feedbacks",
		KeyField: "feedback_id",
		Columns: []Column{
			{Field: "feedback_id", Header: "Feedback ID"},
			{Field: "counseling_id", Header: "Counseling ID"},
			{Field: "professor_id", Header: "Professor ID"},
			{Field: "content", Header: "Content"},
		},
		Required:    []string{"feedback_id", "counseling_id", "content"},
		SearchField: "content",
		KeyPrefix:   "feedback",
	}
}

// DefaultRegistry returns the built-in collections.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(ProfessorSchema(), StudentSchema(), CounselingSchema(), FeedbackSchema())
	if err != nil {
		panic(err)
	}
	return r
}
