package config

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

func Default() *Config {
	return &Config{
		DataFile:         "granite.db",
		PoolSize:         64,
		ReplacerK:        2,
		LeafMaxSize:      32,
		InternalMaxSize:  32,
		DeadlockInterval: 50 * time.Millisecond,
		LogLevel:         "warn",
	}
}

// Load reads an ini file and overlays it on the defaults. A missing
// file is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := ini.LooseLoad(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading config %s", path)
	}

	storage := file.Section("storage")
	cfg.DataFile = storage.Key("data_file").MustString(cfg.DataFile)
	cfg.PoolSize = storage.Key("pool_size").MustInt(cfg.PoolSize)
	cfg.ReplacerK = storage.Key("replacer_k").MustInt(cfg.ReplacerK)

	index := file.Section("index")
	cfg.LeafMaxSize = index.Key("leaf_max_size").MustInt(cfg.LeafMaxSize)
	cfg.InternalMaxSize = index.Key("internal_max_size").MustInt(cfg.InternalMaxSize)

	txn := file.Section("transaction")
	cfg.DeadlockInterval = txn.Key("deadlock_interval").MustDuration(cfg.DeadlockInterval)

	logs := file.Section("log")
	cfg.LogLevel = logs.Key("level").MustString(cfg.LogLevel)

	return cfg, nil
}

type Config struct {
	DataFile         string
	PoolSize         int
	ReplacerK        int
	LeafMaxSize      int
	InternalMaxSize  int
	DeadlockInterval time.Duration
	LogLevel         string
}
