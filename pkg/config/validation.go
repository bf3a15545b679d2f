package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validation tags plus
// the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				return fmt.Errorf("invalid value for %s: failed %q constraint", fe.Namespace(), fe.Tag())
			}
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// A chunk plus its envelope must fit in one frame.
	if cfg.Transfer.ChunkSize >= cfg.Transfer.MaxFrameSize {
		return fmt.Errorf("transfer: chunk_size (%s) must be smaller than max_frame_size (%s)",
			cfg.Transfer.ChunkSize, cfg.Transfer.MaxFrameSize)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("metrics: port %d collides with the server port", cfg.Metrics.Port)
	}

	return nil
}
