package amocrm

import (
	"encoding/json"
	"strconv"
)

// FieldValue is a single value of a custom field. Enumerated fields carry
// the option ID and code alongside the raw value; the raw value may arrive
// as a string, a number or a boolean depending on the field type.
type FieldValue struct {
	Value    any    `json:"value"`
	EnumID   int64  `json:"enum_id,omitempty"`
	EnumCode string `json:"enum_code,omitempty"`
}

// Text returns the value rendered as a string, or "" for nil.
func (v FieldValue) Text() string {
	switch val := v.Value.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; integral values print without a fraction
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// CustomFieldValue is one custom-field entry on a deal, contact or company.
type CustomFieldValue struct {
	FieldID   int64        `json:"field_id"`
	FieldName string       `json:"field_name"`
	FieldCode string       `json:"field_code,omitempty"`
	Values    []FieldValue `json:"values"`
}

// Tag is a deal tag.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EntityRef is a bare reference to a related entity.
type EntityRef struct {
	ID int64 `json:"id"`
}

// DealEmbedded holds related entities expanded into a deal payload.
type DealEmbedded struct {
	Tags      []Tag       `json:"tags,omitempty"`
	Contacts  []EntityRef `json:"contacts,omitempty"`
	Companies []EntityRef `json:"companies,omitempty"`
}

// Deal is a CRM pipeline record, the unit of synchronization.
// Deals are read-only from this system's perspective: fetched, transformed,
// discarded. Timestamps are Unix seconds; zero means not set.
type Deal struct {
	ID                int64              `json:"id"`
	Name              string             `json:"name"`
	Price             int64              `json:"price"`
	PipelineID        int64              `json:"pipeline_id"`
	StatusID          int64              `json:"status_id"`
	ResponsibleUserID int64              `json:"responsible_user_id"`
	CreatedBy         int64              `json:"created_by"`
	UpdatedBy         int64              `json:"updated_by"`
	CreatedAt         int64              `json:"created_at"`
	UpdatedAt         int64              `json:"updated_at"`
	ClosedAt          int64              `json:"closed_at"`
	Tags              []Tag              `json:"tags,omitempty"`
	CustomFields      []CustomFieldValue `json:"custom_fields_values"`
	Embedded          *DealEmbedded      `json:"_embedded,omitempty"`
}

// TagList returns the deal's tags regardless of payload shape: webhook
// payloads carry tags at the top level, API v4 responses under _embedded.
func (d *Deal) TagList() []Tag {
	if len(d.Tags) > 0 {
		return d.Tags
	}
	if d.Embedded != nil {
		return d.Embedded.Tags
	}
	return nil
}

// ContactIDs returns the IDs of related contacts, if expanded.
func (d *Deal) ContactIDs() []int64 {
	if d.Embedded == nil {
		return nil
	}
	ids := make([]int64, 0, len(d.Embedded.Contacts))
	for _, c := range d.Embedded.Contacts {
		ids = append(ids, c.ID)
	}
	return ids
}

// CompanyIDs returns the IDs of related companies, if expanded.
func (d *Deal) CompanyIDs() []int64 {
	if d.Embedded == nil {
		return nil
	}
	ids := make([]int64, 0, len(d.Embedded.Companies))
	for _, c := range d.Embedded.Companies {
		ids = append(ids, c.ID)
	}
	return ids
}

// ContactEmbedded holds entities expanded into a contact payload.
type ContactEmbedded struct {
	Companies []Company `json:"companies,omitempty"`
}

// Contact is a person related to a deal.
type Contact struct {
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	CustomFields []CustomFieldValue `json:"custom_fields_values"`
	Embedded     *ContactEmbedded   `json:"_embedded,omitempty"`
}

// CompanyName returns the name of the contact's first related company, or "".
func (c *Contact) CompanyName() string {
	if c.Embedded == nil || len(c.Embedded.Companies) == 0 {
		return ""
	}
	return c.Embedded.Companies[0].Name
}

// Company is an organization related to a deal.
type Company struct {
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	CustomFields []CustomFieldValue `json:"custom_fields_values"`
}

// User is a CRM account user, used to resolve responsible/creator names.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Status is one step of a pipeline.
type Status struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Pipeline is a named workflow with its ordered statuses.
type Pipeline struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Embedded struct {
		Statuses []Status `json:"statuses"`
	} `json:"_embedded"`
}

// EnumOption is one option of an enumerated custom field definition.
type EnumOption struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

// CustomFieldDef is a custom field definition (metadata, not a value).
type CustomFieldDef struct {
	ID    int64        `json:"id"`
	Name  string       `json:"name"`
	Type  string       `json:"type"`
	Enums []EnumOption `json:"enums,omitempty"`
}
