package assembly

import "github.com/go-gl/mathgl/mgl64"

// Constraint types emitted by the CAD exporter.
const (
	TypeConcentric = "Concentric"
	TypeCoincident = "Coincident"
	TypeTangent    = "Tangent"
)

// Anchor is a part's rest placement. DefaultTransform is already resolved
// against the parent chain.
type Anchor struct {
	Name             string
	ParentName       string
	AttachmentName   string
	DefaultTransform mgl64.Mat4
	SelfAttachment   mgl64.Mat4
	ParentAttachment mgl64.Mat4
}

// ConstraintGeometry is one endpoint of a constraint. Position and Axis are
// local to PartName; Ground marks a reference fixed to the world.
type ConstraintGeometry struct {
	GeometryType string
	PartName     string
	Position     mgl64.Vec3
	Axis         mgl64.Vec3
	Ground       bool
	InstancePath []string
	InstanceUID  string
	EntityUID    string
}

type Constraint struct {
	Name       string
	Type       string
	Geometries []ConstraintGeometry
}

// Involves reports whether any geometry of c belongs to part.
func (c Constraint) Involves(part string) bool {
	for _, g := range c.Geometries {
		if g.PartName == part {
			return true
		}
	}
	return false
}

// PartTransform is the per-frame placement of a single part.
type PartTransform struct {
	Name      string
	Transform mgl64.Mat4
}

// Attachment pairs the child-side and parent-side frames of a named mount.
type Attachment struct {
	Self   mgl64.Mat4
	Parent mgl64.Mat4
}

// Part is the loaded record for one mapping entry.
type Part struct {
	Name             string
	Mesh             string
	Color            mgl64.Vec3
	AnchorTransform  mgl64.Mat4
	ParentName       string
	ParentAttachment string
	Attachments      map[string]Attachment

	parentIndex int
	relative    mgl64.Mat4
	hasRelative bool
}
