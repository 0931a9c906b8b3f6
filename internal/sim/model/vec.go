package model

import (
	"fmt"
	"strconv"
	"strings"
)

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3i) Sub(o Vec3i) Vec3i { return Vec3i{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }
func (v Vec3i) Neg() Vec3i        { return Vec3i{X: -v.X, Y: -v.Y, Z: -v.Z} }

func (v Vec3i) String() string {
	return strconv.Itoa(v.X) + "," + strconv.Itoa(v.Y) + "," + strconv.Itoa(v.Z)
}

// Within reports whether v lies in [0,size) on every axis.
func (v Vec3i) Within(size Vec3i) bool {
	return v.X >= 0 && v.X < size.X &&
		v.Y >= 0 && v.Y < size.Y &&
		v.Z >= 0 && v.Z < size.Z
}

// ParseVec3i parses "x,y,z".
func ParseVec3i(s string) (Vec3i, error) {
	var v Vec3i
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	var n [3]int
	for i := 0; i < 3; i++ {
		x, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		n[i] = x
	}
	return Vec3i{X: n[0], Y: n[1], Z: n[2]}, nil
}
