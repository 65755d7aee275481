package generator

// Config drives the synthetic marketplace generator.
type Config struct {
	NumUsers     int
	NumProducts  int
	AdChance     float64
	ReportChance float64
	Seed         int64
}

// DefaultConfig returns baseline settings for a demo-sized marketplace.
func DefaultConfig() Config {
	return Config{
		NumUsers:     200,
		NumProducts:  1000,
		AdChance:     0.3,
		ReportChance: 0.05,
		Seed:         42,
	}
}
