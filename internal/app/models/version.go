package models

// Versions of the pipeline stages, recorded in generation metadata.
const (
	GeneratorVersion = "2.1.0"
	SchedulerVersion = "1.3.0"
	CostsVersion     = "1.2.0"
	DensityVersion   = "1.1.0"
	TransportVersion = "1.0.2"
	MealsVersion     = "1.0.1"
	RecoveryVersion  = "1.1.0"
)

// EngineVersions returns a fresh map of stage versions.
func EngineVersions() map[string]string {
	return map[string]string{
		"generator": GeneratorVersion,
		"scheduler": SchedulerVersion,
		"costs":     CostsVersion,
		"density":   DensityVersion,
		"transport": TransportVersion,
		"meals":     MealsVersion,
		"recovery":  RecoveryVersion,
		"oracle":    ScoreVersion,
	}
}
