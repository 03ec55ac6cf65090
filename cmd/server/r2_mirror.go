package main

import (
	"github.com/rs/zerolog"

	"levelverse.io/internal/config"
	"levelverse.io/internal/persistence/r2s3"
)

// buildMirror returns nil when mirroring is disabled.
func buildMirror(cfg config.Config, logger zerolog.Logger) (*r2s3.Mirror, error) {
	m := cfg.Mirror
	if !m.Enabled {
		return nil, nil
	}
	client, err := r2s3.New(r2s3.ClientConfig{
		Endpoint:        m.Endpoint,
		Bucket:          m.Bucket,
		Region:          m.Region,
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("bucket", m.Bucket).Str("prefix", m.Prefix).Msg("mirror: enabled")
	return r2s3.NewMirror(client, r2s3.MirrorConfig{
		DataDir: cfg.DataDir,
		Prefix:  m.Prefix,
		Workers: m.Workers,
		Logger:  logger,
	}), nil
}
