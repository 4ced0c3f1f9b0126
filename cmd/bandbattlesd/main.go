package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/vctt94/bisonbotkit/logging"
	"github.com/vctt94/bisonbotkit/utils"

	"github.com/roschler/ethereum-band-battles-sub001/server"
)

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	dataDir := flag.String("datadir", "", "data directory (default: app data dir)")
	flag.Parse()
	if *dataDir == "" {
		*dataDir = utils.AppDataDir("bandbattlesd", false)
	}
	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		return errors.Wrap(err, "create data dir")
	}

	cfg, err := loadConfig(*dataDir)
	if err != nil {
		return err
	}

	useStdout := true
	lb, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(*dataDir, "logs", "bandbattlesd.log"),
		DebugLevel:     cfg.DebugLevel,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
		UseStdout:      &useStdout,
	})
	if err != nil {
		return errors.Wrap(err, "init logging")
	}
	log := lb.Logger("MAIN")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ec, err := ethclient.DialContext(ctx, cfg.EthRPCURL)
	if err != nil {
		return errors.Wrapf(err, "dial eth node at %s", cfg.EthRPCURL)
	}
	defer ec.Close()
	log.Infof("connected to eth node at %s", cfg.EthRPCURL)

	srv, err := server.NewServer(server.ServerConfig{
		ServerDir:     *dataDir,
		DebugLevel:    cfg.DebugLevel,
		LogBackend:    lb,
		Eth:           ec,
		PayoutAccount: common.HexToAddress(cfg.PayoutAccount),
		PollInterval:  cfg.PollInterval,
		QueueInterval: cfg.QueueInterval,
		MinConfs:      cfg.MinConfs,
		WaitTimeout:   cfg.WaitTimeout,
	})
	if err != nil {
		return err
	}

	log.Infof("bandbattlesd started (poll=%v queue=%v minconfs=%d)",
		cfg.PollInterval, cfg.QueueInterval, cfg.MinConfs)
	return srv.Run(ctx)
}
