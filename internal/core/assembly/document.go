package assembly

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Document mirrors the mapping file produced by the CAD exporter. JSON and
// YAML share the same field names.
type Document struct {
	Parts       []PartDocument       `json:"parts" yaml:"parts"`
	Constraints []ConstraintDocument `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

type PartDocument struct {
	Name        string                        `json:"name" yaml:"name"`
	Mesh        string                        `json:"mesh" yaml:"mesh"`
	Anchor      *AnchorDocument               `json:"anchor,omitempty" yaml:"anchor,omitempty"`
	Attachments map[string]AttachmentDocument `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	Parent      *ParentDocument               `json:"parent,omitempty" yaml:"parent,omitempty"`
}

type AnchorDocument struct {
	Position      []float64 `json:"position,omitempty" yaml:"position,omitempty"`
	RotationEuler []float64 `json:"rotationEuler,omitempty" yaml:"rotationEuler,omitempty"`
	Color         []float64 `json:"color,omitempty" yaml:"color,omitempty"`
}

type TransformDocument struct {
	Position      []float64 `json:"position,omitempty" yaml:"position,omitempty"`
	RotationEuler []float64 `json:"rotationEuler,omitempty" yaml:"rotationEuler,omitempty"`
}

type AttachmentDocument struct {
	Self   *TransformDocument `json:"self,omitempty" yaml:"self,omitempty"`
	Parent *TransformDocument `json:"parent,omitempty" yaml:"parent,omitempty"`
}

type ParentDocument struct {
	Name       string `json:"name" yaml:"name"`
	Attachment string `json:"attachment,omitempty" yaml:"attachment,omitempty"`
}

type ConstraintDocument struct {
	Name       string             `json:"name" yaml:"name"`
	Type       string             `json:"type" yaml:"type"`
	Geometries []GeometryDocument `json:"geometries" yaml:"geometries"`
}

type GeometryDocument struct {
	Geometry     string    `json:"geometry,omitempty" yaml:"geometry,omitempty"`
	InstancePath []string  `json:"instancePath,omitempty" yaml:"instancePath,omitempty"`
	InstanceUID  string    `json:"instanceUid,omitempty" yaml:"instanceUid,omitempty"`
	Part         string    `json:"part,omitempty" yaml:"part,omitempty"`
	EntityUID    string    `json:"entityUid,omitempty" yaml:"entityUid,omitempty"`
	Position     []float64 `json:"position,omitempty" yaml:"position,omitempty"`
	Axis         []float64 `json:"axis,omitempty" yaml:"axis,omitempty"`
	Ground       bool      `json:"ground,omitempty" yaml:"ground,omitempty"`
}

// DecodeJSON reads a mapping document from JSON.
func DecodeJSON(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json mapping: %w", err)
	}
	return &doc, nil
}

// DecodeYAML reads a mapping document from YAML.
func DecodeYAML(r io.Reader) (*Document, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode yaml mapping: %w", err)
	}
	return &doc, nil
}
