package models

// ImageStatus represents the persistence outcome of an image in the crawl ledger
type ImageStatus string

const (
	ImageStatusUnset        ImageStatus = ""              // Zero value = unset/unknown
	ImageStatusSaved        ImageStatus = "saved"         // One candidate was downloaded
	ImageStatusMissing      ImageStatus = "missing"       // Every candidate failed
	ImageStatusNoCandidates ImageStatus = "no_candidates" // Thumbnail had no usable image URL
	ImageStatusNotFound     ImageStatus = "not_found"     // Image not in ledger
	ImageStatusDBError      ImageStatus = "db_error"      // Ledger read failed
)

// String implements fmt.Stringer for logging
func (s ImageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a recorded outcome
func (s ImageStatus) IsValid() bool {
	switch s {
	case ImageStatusSaved, ImageStatusMissing, ImageStatusNoCandidates:
		return true
	}
	return false
}
