// Package genomics contains definitions related to Genomic data.
package genomics

import "fmt"

// Region defines a region of genomic interest.
type Region struct {
	// ReferenceID specifies the reference to match.  If it is negative, any
	// reference matches the region.
	ReferenceID int32
	// Start and End specify the half-open range (in base pairs) relative to the
	// reference.  If End is zero, it is treated as though it was set to the last
	// possible position.
	Start, End uint32
}

// Overlaps reports whether the half-open range [start, end) on reference ref
// intersects the region.
func (region Region) Overlaps(ref int32, start, end uint32) bool {
	if region.ReferenceID >= 0 && ref != region.ReferenceID {
		return false
	}
	if region.End != 0 && start >= region.End {
		return false
	}
	return end > region.Start
}

func (region Region) String() string {
	return fmt.Sprintf("[region:%d, start:%d, end:%d]", region.ReferenceID, region.Start, region.End)
}
