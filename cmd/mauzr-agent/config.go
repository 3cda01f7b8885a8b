package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/eqrx/mauzr"
)

// loadConfig starts from the defaults, applies the config file if one is
// given and then every flag that was set on the command line or through its
// environment variable.
func loadConfig(c *cli.Context) (mauzr.Config, error) {
	cfg := mauzr.DefaultConfig()

	if path := c.String(FlagConfig.Name); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := decodeConfig(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyFlags(c, &cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// decodeConfig overlays the YAML document in data onto cfg. Unknown keys
// are rejected.
func decodeConfig(data []byte, cfg *mauzr.Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyFlags(c *cli.Context, cfg *mauzr.Config) {
	texts := []struct {
		flag *cli.StringFlag
		dst  *string
	}{
		{FlagName, &cfg.Name},
		{FlagPassword, &cfg.Password},
		{FlagServer, &cfg.Server},
		{FlagCA, &cfg.CA},
		{FlagCert, &cfg.Cert},
		{FlagKey, &cfg.Key},
		{FlagLogLevel, &cfg.LogLevel},
		{FlagDataPath, &cfg.DataPath},
		{FlagStore, &cfg.StoreBackend},
		{FlagMongoURI, &cfg.MongoURI},
	}
	for _, s := range texts {
		if c.IsSet(s.flag.Name) {
			*s.dst = c.String(s.flag.Name)
		}
	}

	durations := []struct {
		flag *cli.DurationFlag
		dst  *time.Duration
	}{
		{FlagKeepalive, &cfg.Keepalive},
		{FlagBackoff, &cfg.Backoff},
		{FlagMaxSleep, &cfg.MaxSleep},
		{FlagSyncInterval, &cfg.SyncInterval},
	}
	for _, d := range durations {
		if c.IsSet(d.flag.Name) {
			*d.dst = c.Duration(d.flag.Name)
		}
	}

	if c.IsSet(FlagServers.Name) {
		cfg.Servers = c.StringSlice(FlagServers.Name)
	}
}
