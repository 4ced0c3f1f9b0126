package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	DataDir    string
	DebugLevel string

	// EthRPCURL is the Ethereum node endpoint, e.g. ws://127.0.0.1:8546.
	EthRPCURL string

	// PayoutAccount is the hex address payouts are signed with; when set,
	// payouts are preflighted against its nonce and balance.
	PayoutAccount string

	PollInterval  time.Duration
	QueueInterval time.Duration
	MinConfs      uint64
	WaitTimeout   time.Duration
}

// loadConfig reads bandbattlesd.yaml from the data dir, with BANDBATTLES_*
// environment variables taking precedence. A missing file is fine as long
// as the required values arrive via env.
func loadConfig(dataDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("bandbattlesd")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	v.SetEnvPrefix("BANDBATTLES")
	v.AutomaticEnv()

	v.SetDefault("debuglevel", "info")
	v.SetDefault("pollinterval", time.Second)
	v.SetDefault("queueinterval", time.Second)
	v.SetDefault("minconfs", 1)
	v.SetDefault("waittimeout", 2*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config")
		}
	}

	cfg := &Config{
		DataDir:       dataDir,
		DebugLevel:    v.GetString("debuglevel"),
		EthRPCURL:     v.GetString("ethrpcurl"),
		PayoutAccount: v.GetString("payoutaccount"),
		PollInterval:  v.GetDuration("pollinterval"),
		QueueInterval: v.GetDuration("queueinterval"),
		MinConfs:      v.GetUint64("minconfs"),
		WaitTimeout:   v.GetDuration("waittimeout"),
	}
	if cfg.EthRPCURL == "" {
		return nil, fmt.Errorf("ethrpcurl is required (config file or BANDBATTLES_ETHRPCURL)")
	}
	return cfg, nil
}
