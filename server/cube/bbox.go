package cube

import (
	"github.com/go-gl/mathgl/mgl64"
)

// BBox is an axis aligned bounding box defined by two corners. It is
// guaranteed to have a non-negative size on every axis as long as it is
// constructed through Box.
type BBox struct {
	min, max mgl64.Vec3
}

// Box creates a new BBox with the minimum and maximum coordinates passed.
// Coordinates are swapped per axis where necessary, so the resulting box is
// always well formed.
func Box(x0, y0, z0, x1, y1, z1 float64) BBox {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if z0 > z1 {
		z0, z1 = z1, z0
	}
	return BBox{min: mgl64.Vec3{x0, y0, z0}, max: mgl64.Vec3{x1, y1, z1}}
}

// Min returns the minimum corner of the BBox.
func (box BBox) Min() mgl64.Vec3 {
	return box.min
}

// Max returns the maximum corner of the BBox.
func (box BBox) Max() mgl64.Vec3 {
	return box.max
}

// Center returns the center point of the BBox.
func (box BBox) Center() mgl64.Vec3 {
	return box.min.Add(box.max).Mul(0.5)
}

// HalfExtents returns half the size of the BBox on each axis.
func (box BBox) HalfExtents() mgl64.Vec3 {
	return box.max.Sub(box.min).Mul(0.5)
}

// Translate moves the BBox by the Vec3 passed and returns the result.
func (box BBox) Translate(vec mgl64.Vec3) BBox {
	return BBox{min: box.min.Add(vec), max: box.max.Add(vec)}
}

// Grow expands the BBox on all axes by the value passed and returns the
// result.
func (box BBox) Grow(v float64) BBox {
	vec := mgl64.Vec3{v, v, v}
	return BBox{min: box.min.Sub(vec), max: box.max.Add(vec)}
}

// GrowVec3 expands the BBox by the Vec3 passed, moving the minimum corner
// down by it and the maximum corner up by it.
func (box BBox) GrowVec3(vec mgl64.Vec3) BBox {
	return BBox{min: box.min.Sub(vec), max: box.max.Add(vec)}
}

// Extend stretches the BBox towards the direction of the Vec3 passed: a
// negative component extends the minimum corner and a positive component
// extends the maximum corner. It is used to cover the full volume swept by a
// moving box.
func (box BBox) Extend(vec mgl64.Vec3) BBox {
	res := box
	for i := 0; i < 3; i++ {
		if vec[i] < 0 {
			res.min[i] += vec[i]
		} else {
			res.max[i] += vec[i]
		}
	}
	return res
}

// IntersectsWith checks if the BBox overlaps with another BBox on all three
// axes. Boxes that merely touch on a face are not considered intersecting.
func (box BBox) IntersectsWith(other BBox) bool {
	for i := 0; i < 3; i++ {
		if other.max[i] <= box.min[i] || other.min[i] >= box.max[i] {
			return false
		}
	}
	return true
}

// Vec3Within checks if a Vec3 lies within the bounds of the BBox.
func (box BBox) Vec3Within(vec mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if vec[i] < box.min[i] || vec[i] > box.max[i] {
			return false
		}
	}
	return true
}
