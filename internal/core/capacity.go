package core

import (
	"github.com/edvin/fleet/internal/model"
)

// Minimum resource headroom (percent) a node must have before it can take
// on additional roles.
const (
	MinCPUHeadroom    = 30.0
	MinMemoryHeadroom = 30.0
)

// Headroom returns the unused share of a resource metric.
func Headroom(percent float64) float64 {
	return 100 - percent
}

// HasCapacity is the admission test used when creating a deployment: both
// CPU and memory headroom must clear their minimums individually. This is
// deliberately stricter than CapacityScore, which averages the two.
func HasCapacity(node *model.Node) bool {
	return Headroom(node.CPUPercent) >= MinCPUHeadroom &&
		Headroom(node.MemoryPercent) >= MinMemoryHeadroom
}

// CapacityScore ranks nodes for eligibility listings by the average of CPU
// and memory headroom.
func CapacityScore(node *model.Node) float64 {
	return (Headroom(node.CPUPercent) + Headroom(node.MemoryPercent)) / 2
}
