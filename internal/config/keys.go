package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "ORDMIRROR_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "ORDMIRROR_API_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		env: "ORDMIRROR_DRIVER_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Driver.BaseURL = v.(string) },
	},
	{
		env: "ORDMIRROR_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "ORDMIRROR_SESSION_CAPACITY", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Sessions.Capacity = v.(int) },
	},
	{
		env: "ORDMIRROR_SESSION_IDLE_TTL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Sessions.IdleTTL = v.(time.Duration) },
	},
	{
		env: "ORDMIRROR_SESSION_REAP_INTERVAL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Sessions.ReapInterval = v.(time.Duration) },
	},
	{
		env: "ORDMIRROR_SYNC_OWNER_ID", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Sync.OwnerID = v.(string) },
	},
	{
		env: "ORDMIRROR_SYNC_FRESHNESS", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Sync.Freshness = v.(time.Duration) },
	},
	{
		env: "ORDMIRROR_SYNC_SCHEDULE", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Sync.Schedule = v.(string) },
	},
	{
		env: "ORDMIRROR_SYNC_PAUSE_TIMEOUT", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Sync.PauseTimeout = v.(time.Duration) },
	},
	{
		env: "ORDMIRROR_QUEUE_POLL_INTERVAL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Queue.PollInterval = v.(time.Duration) },
	},
	{
		env: "ORDMIRROR_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
