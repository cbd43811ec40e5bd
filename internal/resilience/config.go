package resilience

import "time"

// Breaker tuning for diagnostic sinks. Diagnostics are best effort, so the
// breaker trips early and retries often.
const (
	SinkTripAfter    = 3
	SinkCooldown     = 10 * time.Second
	SinkTrialsToHeal = 1
)

// Config tunes a Breaker. Zero fields take the sink defaults.
type Config struct {
	Name         string        // reported in logs and Stats
	TripAfter    int           // consecutive failures that open the breaker
	Cooldown     time.Duration // time open before a trial call is let through
	TrialsToHeal int           // successful trial calls needed to close again
}

// SinkConfig returns the defaults for a named diagnostic sink.
func SinkConfig(name string) Config {
	return Config{
		Name:         name,
		TripAfter:    SinkTripAfter,
		Cooldown:     SinkCooldown,
		TrialsToHeal: SinkTrialsToHeal,
	}
}

func (c Config) normalize() Config {
	if c.Name == "" {
		c.Name = "sink"
	}
	if c.TripAfter <= 0 {
		c.TripAfter = SinkTripAfter
	}
	if c.Cooldown <= 0 {
		c.Cooldown = SinkCooldown
	}
	if c.TrialsToHeal <= 0 {
		c.TrialsToHeal = SinkTrialsToHeal
	}
	return c
}
