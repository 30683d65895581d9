// Package config loads the small set of tunables a host process wires into
// the core engine: store concurrency, the absorb masked-deletion policy, and
// annotate's per-merge-commit parent fetch fan-out.
//
// Grounded on modules/zeta/config/config.go and modules/zeta/config/decode.go:
// the same toml.DecodeFile-based loading, struct-tag field style, and
// Overwrite-style defaulting.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the tunable surface this engine reads at startup.
type Config struct {
	// DiffConcurrency bounds the number of simultaneously in-flight
	// GetTreeAsync calls mergedtree.DiffStream issues; a host passes it to
	// memstore.WithConcurrency (or an equivalent store.Store constructor).
	DiffConcurrency int `toml:"diffconcurrency,omitzero"`

	// AbsorbRejectMaskedDeletion rejects a deletion hunk outright when it
	// spans a masked annotation range, instead of silently dropping the
	// masked portion and absorbing the rest (spec.md §9's adopted policy).
	// Wired through to absorb.Options.RejectMaskedDeletion.
	AbsorbRejectMaskedDeletion bool `toml:"absorbrejectmaskeddeletion,omitzero"`

	// AnnotateBatchSize bounds how many of a merge commit's parents
	// absorb.Annotate fetches concurrently while walking history. Wired
	// through to absorb.Options.AnnotateBatchSize.
	AnnotateBatchSize int `toml:"annotatebatchsize,omitzero"`
}

// Default returns the engine's built-in defaults, used whenever no config
// file is present.
func Default() *Config {
	return &Config{
		DiffConcurrency:            8,
		AbsorbRejectMaskedDeletion: true,
		AnnotateBatchSize:          1,
	}
}

// Load reads a TOML config file at path, starting from Default and
// overwriting whatever fields the file sets.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.DiffConcurrency <= 0 {
		cfg.DiffConcurrency = 8
	}
	if cfg.AnnotateBatchSize <= 0 {
		cfg.AnnotateBatchSize = 1
	}
	return cfg, nil
}
