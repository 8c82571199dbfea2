package bptree

// The redistribution decision is kept separate from page mutation so it
// is a pure function of (original entry sizes, new entry size, high,
// threshold): identical inputs always produce the identical partition,
// regardless of which page objects are involved.

// mergedSizes returns the on-page byte sizes of the merged sequence:
// the original sizes with newSize inserted at 1-based position high.
func mergedSizes(orig []int, newSize, high int) []int {
	merged := make([]int, 0, len(orig)+1)
	for i := 0; i < len(orig)+1; i++ {
		switch {
		case i+1 < high:
			merged = append(merged, orig[i])
		case i+1 == high:
			merged = append(merged, newSize)
		default:
			merged = append(merged, orig[i-1])
		}
	}
	return merged
}

// splitPoint walks the merged sequence accumulating occupied size
// (entry bytes plus its slot directory element) and returns the number
// of leading entries that stay in the source page. Entries keep landing
// in the source while the accumulated size is below the half fill
// threshold; the remainder goes to the sibling. The sibling always
// receives at least one entry so the up-entry is well defined.
func splitPoint(sizes []int, half int) int {
	sum := 0
	left := 0
	for _, sz := range sizes {
		if sum >= half {
			break
		}
		sum += sz + slotSz
		left++
	}

	if left == len(sizes) {
		left = len(sizes) - 1
	}
	return left
}
