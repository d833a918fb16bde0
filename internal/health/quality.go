package health

import "github.com/joescharf/chronicle/internal/models"

// Quality rates a connection for display. It does not feed into the
// health or reconnect decision.
func Quality(latencyMs float64, missed int, hasSample bool) models.Quality {
	switch {
	case !hasSample:
		return models.QualityUnknown
	case missed > 0 || latencyMs > 500:
		return models.QualityPoor
	case latencyMs < 50:
		return models.QualityExcellent
	default:
		return models.QualityGood
	}
}
