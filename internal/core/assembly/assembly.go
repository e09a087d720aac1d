// Package assembly holds the loaded engine mapping: part anchors, attachment
// hierarchy, CAD constraints and the current per-part pose.
package assembly

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/cylinderworks/cylinderworks/internal/core/geom"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

var defaultColor = mgl64.Vec3{0.75, 0.75, 0.75}

type Assembly struct {
	mu          sync.RWMutex
	logger      log.Log
	parts       []*Part
	lookup      map[string]int
	constraints []Constraint
	defaults    []mgl64.Mat4
	current     []mgl64.Mat4
	fingerprint uint64
}

// New builds an assembly from a decoded mapping document. Entries without a
// name or mesh are skipped; ErrMissingParts is returned when none remain.
func New(doc *Document, logger log.Log) (*Assembly, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if doc == nil {
		return nil, ErrMissingParts
	}

	a := &Assembly{
		logger: logger,
		lookup: make(map[string]int, len(doc.Parts)),
	}

	for i, pd := range doc.Parts {
		part, err := buildPart(pd, logger)
		if err != nil {
			logger.Warn("Unable to load part entry", log.Int("index", i), log.Error(err))
			continue
		}
		if _, exists := a.lookup[part.Name]; exists {
			logger.Warn("Skipping part entry",
				log.Int("index", i),
				log.Error(fmt.Errorf("%w: %s", ErrDuplicatePart, part.Name)))
			continue
		}
		a.lookup[part.Name] = len(a.parts)
		a.parts = append(a.parts, part)
	}
	if len(a.parts) == 0 {
		return nil, ErrMissingParts
	}

	a.linkParents()
	a.constraints = buildConstraints(doc.Constraints)
	a.defaults = a.resolveDefaults()
	a.current = append([]mgl64.Mat4(nil), a.defaults...)
	a.fingerprint = fingerprint(a.Anchors(), a.constraints)

	logger.Info("Assembly loaded",
		log.Int("parts", len(a.parts)),
		log.Int("constraints", len(a.constraints)),
		log.Uint64("fingerprint", a.fingerprint))

	return a, nil
}

// LoadJSON decodes a JSON mapping and builds the assembly.
func LoadJSON(r io.Reader, logger log.Log) (*Assembly, error) {
	doc, err := DecodeJSON(r)
	if err != nil {
		return nil, err
	}
	return New(doc, logger)
}

// LoadYAML decodes a YAML mapping and builds the assembly.
func LoadYAML(r io.Reader, logger log.Log) (*Assembly, error) {
	doc, err := DecodeYAML(r)
	if err != nil {
		return nil, err
	}
	return New(doc, logger)
}

// LoadFile picks the decoder from the file extension. Relative mesh paths are
// resolved against the mapping's directory.
func LoadFile(path string, logger log.Log) (*Assembly, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping %s: %w", path, err)
	}
	defer f.Close()

	var doc *Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		doc, err = DecodeJSON(f)
	case ".yaml", ".yml":
		doc, err = DecodeYAML(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load mapping %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range doc.Parts {
		mesh := doc.Parts[i].Mesh
		if mesh != "" && !filepath.IsAbs(mesh) {
			doc.Parts[i].Mesh = filepath.Join(base, mesh)
		}
	}
	return New(doc, logger)
}

func buildPart(pd PartDocument, logger log.Log) (*Part, error) {
	if pd.Name == "" || pd.Mesh == "" {
		return nil, ErrEmptyPartEntry
	}

	part := &Part{
		Name:        pd.Name,
		Mesh:        pd.Mesh,
		Color:       defaultColor,
		Attachments: make(map[string]Attachment, len(pd.Attachments)),
		parentIndex: -1,
	}

	var position, rotation mgl64.Vec3
	if pd.Anchor != nil {
		position = parseVec3(pd.Anchor.Position, position)
		rotation = parseVec3(pd.Anchor.RotationEuler, rotation)
		part.Color = parseVec3(pd.Anchor.Color, defaultColor)
	}
	part.AnchorTransform = geom.ComposeTransform(position, rotation)

	for name, ad := range pd.Attachments {
		pair := Attachment{Self: mgl64.Ident4(), Parent: mgl64.Ident4()}
		if ad.Self != nil {
			pair.Self = parseTransform(ad.Self)
		} else {
			logger.Warn("Attachment missing self transform",
				log.String("part", pd.Name), log.String("attachment", name))
		}
		if ad.Parent != nil {
			pair.Parent = parseTransform(ad.Parent)
		} else {
			logger.Warn("Attachment missing parent transform",
				log.String("part", pd.Name), log.String("attachment", name))
		}
		part.Attachments[name] = pair
	}

	if pd.Parent != nil {
		part.ParentName = pd.Parent.Name
		part.ParentAttachment = pd.Parent.Attachment
		switch {
		case part.ParentAttachment != "":
			if pair, ok := part.Attachments[part.ParentAttachment]; ok {
				part.relative = geom.CombineAttachment(pair.Parent, pair.Self)
				part.hasRelative = true
			} else {
				logger.Warn("Part references missing attachment",
					log.String("part", pd.Name), log.String("attachment", part.ParentAttachment))
			}
		case part.ParentName != "":
			logger.Warn("Part specifies parent without attachment",
				log.String("part", pd.Name), log.String("parent", part.ParentName))
		}
	}

	return part, nil
}

func (a *Assembly) linkParents() {
	for i, part := range a.parts {
		if part.ParentName == "" {
			continue
		}
		idx, ok := a.lookup[part.ParentName]
		if !ok {
			a.logger.Error("Part references missing parent",
				log.String("part", part.Name), log.String("parent", part.ParentName))
			continue
		}
		if idx == i {
			a.logger.Error("Part cannot parent itself", log.String("part", part.Name))
			continue
		}
		part.parentIndex = idx
	}
}

func buildConstraints(docs []ConstraintDocument) []Constraint {
	out := make([]Constraint, 0, len(docs))
	for _, cd := range docs {
		c := Constraint{
			Name:       cd.Name,
			Type:       cd.Type,
			Geometries: make([]ConstraintGeometry, 0, len(cd.Geometries)),
		}
		for _, gd := range cd.Geometries {
			c.Geometries = append(c.Geometries, ConstraintGeometry{
				GeometryType: gd.Geometry,
				PartName:     gd.Part,
				Position:     parseVec3(gd.Position, mgl64.Vec3{}),
				Axis:         parseVec3(gd.Axis, mgl64.Vec3{}),
				Ground:       gd.Ground,
				InstancePath: append([]string(nil), gd.InstancePath...),
				InstanceUID:  gd.InstanceUID,
				EntityUID:    gd.EntityUID,
			})
		}
		out = append(out, c)
	}
	return out
}

// Anchors returns one anchor per part in mapping order.
func (a *Assembly) Anchors() []Anchor {
	anchors := make([]Anchor, 0, len(a.parts))
	for i, part := range a.parts {
		anchor := Anchor{
			Name:             part.Name,
			ParentName:       part.ParentName,
			AttachmentName:   part.ParentAttachment,
			DefaultTransform: part.AnchorTransform,
			SelfAttachment:   mgl64.Ident4(),
			ParentAttachment: mgl64.Ident4(),
		}
		if i < len(a.defaults) {
			anchor.DefaultTransform = a.defaults[i]
		}
		if pair, ok := part.Attachments[part.ParentAttachment]; ok && part.ParentAttachment != "" {
			anchor.SelfAttachment = pair.Self
			anchor.ParentAttachment = pair.Parent
		}
		anchors = append(anchors, anchor)
	}
	return anchors
}

func (a *Assembly) Constraints() []Constraint {
	out := make([]Constraint, len(a.constraints))
	copy(out, a.constraints)
	return out
}

// Parts returns the part names in mapping order.
func (a *Assembly) Parts() []string {
	names := make([]string, len(a.parts))
	for i, p := range a.parts {
		names[i] = p.Name
	}
	return names
}

// Part looks up a loaded part by name.
func (a *Assembly) Part(name string) (Part, bool) {
	idx, ok := a.lookup[name]
	if !ok {
		return Part{}, false
	}
	return *a.parts[idx], true
}

// Fingerprint identifies the anchors and constraints of this assembly.
func (a *Assembly) Fingerprint() uint64 {
	return a.fingerprint
}

// ApplyTransforms resets every part to its rest pose and then places the
// named parts. Unknown names are logged and ignored.
func (a *Assembly) ApplyTransforms(transforms []PartTransform) {
	a.mu.Lock()
	defer a.mu.Unlock()

	copy(a.current, a.defaults)
	for _, t := range transforms {
		idx, ok := a.lookup[t.Name]
		if !ok {
			a.logger.Warn("Ignoring transform for unknown part", log.String("part", t.Name))
			continue
		}
		a.current[idx] = t.Transform
	}
}

// CurrentTransforms returns the last applied pose.
func (a *Assembly) CurrentTransforms() []PartTransform {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]PartTransform, len(a.parts))
	for i, part := range a.parts {
		out[i] = PartTransform{Name: part.Name, Transform: a.current[i]}
	}
	return out
}

func parseVec3(values []float64, fallback mgl64.Vec3) mgl64.Vec3 {
	if len(values) != 3 {
		return fallback
	}
	return mgl64.Vec3{values[0], values[1], values[2]}
}

func parseTransform(td *TransformDocument) mgl64.Mat4 {
	position := parseVec3(td.Position, mgl64.Vec3{})
	rotation := parseVec3(td.RotationEuler, mgl64.Vec3{})
	return geom.ComposeTransform(position, rotation)
}
