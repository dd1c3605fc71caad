package schema

import "fmt"

// NotReported is the sentinel for fields absent from a document.
const NotReported = "No reporta"

var yesNo = []string{"Si", "No", NotReported}

// Clinical returns the built-in clinical-history schema: one row per patient
// and one row per consultation.
func Clinical() *Schema {
	return &Schema{
		Name:     "clinical_history",
		Sentinel: NotReported,
		Subject: Section{
			Name: "paciente",
			Key:  "ID Paciente",
			Fields: []Field{
				{Name: "ID Paciente", Role: RoleIdentity, Aliases: []string{"id", "documento", "identificacion", "patient_id"}},
				{Name: "Nombre", Role: RoleIdentity, Aliases: []string{"nombre completo", "paciente", "name"}},
				{Name: "Edad", Role: RoleIdentity, Aliases: []string{"age"}},
				{Name: "Fecha", Role: RoleIdentity, Aliases: []string{"fecha de nacimiento", "date"}, Description: "DD/MM/AAAA"},
				{Name: "Peso", Role: RoleIdentity, Aliases: []string{"peso kg", "weight"}, Description: "kg"},
				{Name: "Talla", Role: RoleIdentity, Aliases: []string{"estatura", "height"}, Description: "cm"},
			},
		},
		Detail: Section{
			Name: "consultas",
			Key:  "No Consulta",
			Fields: []Field{
				{Name: "ID Paciente", Role: RoleIdentity, Aliases: []string{"id", "documento"}},
				{Name: "No Consulta", Role: RoleIdentity, Aliases: []string{"numero consulta", "consulta", "visit"}},
				{Name: "Tabaquismo", Role: RoleCategorical, Aliases: []string{"fumador", "smoking"}, Allowed: yesNo},
				{Name: "Diabetes", Role: RoleCategorical, Aliases: []string{"diabetico"}, Allowed: yesNo},
				{Name: "PSA", Role: RoleIdentity, Aliases: []string{"antigeno prostatico"}},
				{Name: "Presion Arterial", Role: RoleIdentity, Aliases: []string{"tension arterial", "ta", "pa", "blood pressure"}},
				{Name: "Diagnostico", Role: RoleNarrative, Aliases: []string{"diagnosticos", "impresion diagnostica", "diagnosis"}},
				{Name: "Tratamiento", Role: RoleNarrative, Aliases: []string{"plan", "conducta", "treatment"}},
			},
		},
	}
}

// CaptchaField is the single field of the captcha schema.
const CaptchaField = "codigo"

// Captcha returns the digit-only schema used to read login captchas.
func Captcha() *Schema {
	return &Schema{
		Name:     "captcha",
		Sentinel: "",
		Subject: Section{
			Name:   "captcha",
			Key:    CaptchaField,
			Fields: []Field{{Name: CaptchaField, Role: RoleIdentity, Aliases: []string{"code", "captcha", "digits"}, Description: "only the digits shown in the image"}},
		},
	}
}

// FieldDef is the recipe-file form of a Field.
type FieldDef struct {
	Name        string   `json:"name" yaml:"name"`
	Role        string   `json:"role,omitempty" yaml:"role,omitempty"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Allowed     []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// SectionDef is the recipe-file form of a Section.
type SectionDef struct {
	Name   string     `json:"name" yaml:"name"`
	Key    string     `json:"key" yaml:"key"`
	Fields []FieldDef `json:"fields" yaml:"fields"`
}

// Def is the recipe-file form of a Schema.
type Def struct {
	Name     string     `json:"name" yaml:"name"`
	Sentinel string     `json:"sentinel,omitempty" yaml:"sentinel,omitempty"`
	Subject  SectionDef `json:"subject" yaml:"subject"`
	Detail   SectionDef `json:"detail" yaml:"detail"`
}

// FromDef builds and validates a Schema from its recipe form.
func FromDef(d Def) (*Schema, error) {
	s := &Schema{Name: d.Name, Sentinel: d.Sentinel}
	if s.Sentinel == "" {
		s.Sentinel = NotReported
	}

	var err error
	if s.Subject, err = sectionFromDef(d.Subject); err != nil {
		return nil, err
	}
	if s.Detail, err = sectionFromDef(d.Detail); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func sectionFromDef(d SectionDef) (Section, error) {
	sec := Section{Name: d.Name, Key: d.Key, Fields: make([]Field, 0, len(d.Fields))}
	for _, fd := range d.Fields {
		role, err := ParseRole(fd.Role)
		if err != nil {
			return Section{}, fmt.Errorf("field %q: %w", fd.Name, err)
		}
		sec.Fields = append(sec.Fields, Field{
			Name:        fd.Name,
			Role:        role,
			Aliases:     fd.Aliases,
			Allowed:     fd.Allowed,
			Description: fd.Description,
		})
	}
	return sec, nil
}
