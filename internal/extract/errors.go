package extract

import "fmt"

// ShapeError reports a tensor whose shape does not match what the
// image dimensions, patch size and variant constants imply.
type ShapeError struct {
	Op   string
	Want []int
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape mismatch, want %v, got %v", e.Op, e.Want, e.Got)
}

// ShapeMismatchError reports a cross-similarity request over token
// sets with differing patch counts. It fires before any tensor
// computation; nothing is truncated or padded.
type ShapeMismatchError struct {
	SourcePatches int
	TargetPatches int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("cross similarity: patch counts differ, source %d vs target %d", e.SourcePatches, e.TargetPatches)
}
