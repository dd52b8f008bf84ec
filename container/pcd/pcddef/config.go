package pcddef

import mathpkg "github.com/pkg/math"

// Config contains registry configuration.
type Config struct {
	// MaxKeys is the per-node key ceiling, clamped to [1,MaxKeys].
	MaxKeys int `json:"maxKeys,omitempty"`
}

// ApplyDefaults applies defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = MaxKeys
	} else {
		cfg.MaxKeys = mathpkg.MinInt(mathpkg.MaxInt(1, cfg.MaxKeys), MaxKeys)
	}
}
