package model

// Bounds describes a truncation applied to a potentially larger result:
// how many items/rows/lines existed versus how many were returned, so
// callers can tell "nothing more to see" from "there is more, ask again
// with a narrower query." read_resource's data-file preview computes one
// to fill its truncated/total_rows metadata; analyze_data's row cap and
// search_documents' top_k do not use it.
type Bounds struct {
	Total     int
	Returned  int
	Truncated bool
}

// NewBounds computes Bounds from a total and returned count.
func NewBounds(total, returned int) Bounds {
	return Bounds{Total: total, Returned: returned, Truncated: returned < total}
}

// BoundedResult pairs a value with the Bounds describing how it was
// truncated to produce it.
type BoundedResult[T any] struct {
	Value  T
	Bounds Bounds
}
