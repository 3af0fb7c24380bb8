package models

// SliceKind classifies how a file entered the change delta
type SliceKind string

const (
	// SliceAdded marks a file absent from the prior iteration
	SliceAdded SliceKind = "added"
	// SliceModified marks a file present in both iterations with new hunks
	SliceModified SliceKind = "modified"
)

// LineRange is an inclusive [Start, End] line span, 1-based
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the line falls inside the range
func (r LineRange) Contains(line int) bool {
	return line >= r.Start && line <= r.End
}

// FileSlice is one file's contribution to a change delta. Ranges are
// expressed against TargetContent and already include the surrounding
// context band; added files carry a single range covering the whole file.
type FileSlice struct {
	Path          string      `json:"path"`
	Kind          SliceKind   `json:"kind"`
	LineRanges    []LineRange `json:"line_ranges"`
	TargetContent string      `json:"target_content"`
}

// ContainsLine reports whether the line lies within any of the slice's ranges
func (s *FileSlice) ContainsLine(line int) bool {
	for _, r := range s.LineRanges {
		if r.Contains(line) {
			return true
		}
	}
	return false
}

// ChangeDelta is the ordered set of file regions that are new in the
// current iteration relative to the last reviewed one. Deleted files are
// never present.
type ChangeDelta struct {
	PriorIteration   int         `json:"prior_iteration"`
	CurrentIteration int         `json:"current_iteration"`
	Files            []FileSlice `json:"files"`
	// FullReview is set when the delta covers the entire current iteration
	// (created events, missing watermark, or diff fallback).
	FullReview bool `json:"full_review"`
}

// IsEmpty reports whether the delta contains no reviewable files
func (d *ChangeDelta) IsEmpty() bool {
	return d == nil || len(d.Files) == 0
}

// Slice returns the file slice for a path, or nil when the path is outside
// the delta.
func (d *ChangeDelta) Slice(path string) *FileSlice {
	if d == nil {
		return nil
	}
	for i := range d.Files {
		if d.Files[i].Path == path {
			return &d.Files[i]
		}
	}
	return nil
}

// ContainsLine reports whether (path, line) falls inside the delta.
// Findings outside the delta cannot be anchored to a comment thread and
// are dropped before publish.
func (d *ChangeDelta) ContainsLine(path string, line int) bool {
	s := d.Slice(path)
	return s != nil && s.ContainsLine(line)
}
