package models

// StatusCategory classifies a reading against the thresholds of its source.
type StatusCategory string

const (
	StatusFlooded StatusCategory = "flooded"
	StatusDrought StatusCategory = "drought"
	StatusNormal  StatusCategory = "normal"
)

// Classify maps a height to a status category. Only strict inequalities
// trigger Flooded or Drought; a height equal to either boundary is Normal.
func Classify(height float64, t ThresholdConfig) StatusCategory {
	if height > t.FloodedThreshold {
		return StatusFlooded
	}
	if height < t.DroughtThreshold {
		return StatusDrought
	}
	return StatusNormal
}
