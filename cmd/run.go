package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	jRPC "github.com/0xPolygon/cdk-rpc/rpc"
	accelerate "github.com/mertksk/accelerate"
	"github.com/mertksk/accelerate/casperman"
	accelcommon "github.com/mertksk/accelerate/common"
	"github.com/mertksk/accelerate/config"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/mempool"
	"github.com/mertksk/accelerate/prover"
	"github.com/mertksk/accelerate/rpc"
	"github.com/mertksk/accelerate/sequencer"
	seqdb "github.com/mertksk/accelerate/sequencer/db"
	"github.com/mertksk/accelerate/settlement"
	"github.com/mertksk/accelerate/statetree"
	"github.com/urfave/cli/v2"
)

func start(cliCtx *cli.Context) error {
	c, err := config.Load(cliCtx)
	if err != nil {
		return err
	}

	log.Init(c.Log)

	if c.Log.Environment == log.EnvironmentDevelopment {
		accelerate.PrintVersion(os.Stdout)
		log.Info("Starting application")
	} else if c.Log.Environment == log.EnvironmentProduction {
		logVersion()
	}

	components := cliCtx.StringSlice(config.FlagComponents)

	casperClient, err := casperman.NewClient(log.WithFields("module", "casperman"), c.Casperman)
	if err != nil {
		return fmt.Errorf("error creating the casper client: %w", err)
	}
	seq, err := createSequencer(*c, casperClient)
	if err != nil {
		return err
	}

	cancelFuncs := make([]context.CancelFunc, 0)
	for _, component := range components {
		switch component {
		case accelcommon.SEQUENCER:
			seq.Start(cliCtx.Context)
			cancelFuncs = append(cancelFuncs, seq.Stop)

		case accelcommon.RPC:
			server := createRPC(c.RPC, seq, casperClient)
			go func() {
				if err := server.Start(); err != nil {
					log.Fatal(err)
				}
			}()
		}
	}

	waitSignal(cancelFuncs)
	return nil
}

// createSequencer wires the whole pipeline: mempool, state tree, prover and
// settlement coordinators, storage
func createSequencer(c config.Config, client settlement.Client) (*sequencer.Sequencer, error) {
	logger := log.WithFields("module", accelcommon.SEQUENCER)

	depth := c.Sequencer.TreeDepth
	if depth == 0 {
		depth = statetree.DefaultDepth
	}
	tree, err := statetree.New(depth)
	if err != nil {
		return nil, fmt.Errorf("error creating the state tree: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.Sequencer.DBPath), 0744); err != nil { //nolint:mnd
		return nil, fmt.Errorf("error creating the db directory: %w", err)
	}
	storage, err := seqdb.NewStorage(logger, c.Sequencer.DBPath)
	if err != nil {
		return nil, fmt.Errorf("error opening the sequencer storage: %w", err)
	}

	backend, err := prover.NewBackend(c.Sequencer.Prover)
	if err != nil {
		return nil, fmt.Errorf("error creating the proof backend: %w", err)
	}
	proverCoord := prover.NewCoordinator(
		log.WithFields("module", "prover"), c.Sequencer.Prover, backend,
	)

	settlementCoord := settlement.NewCoordinator(
		log.WithFields("module", "settlement"), c.Sequencer.Settlement, client,
	)

	pool := mempool.New(logger, c.Sequencer.Mempool)
	return sequencer.New(logger, c.Sequencer, pool, tree, proverCoord, settlementCoord, storage)
}

func createRPC(cfg jRPC.Config, seq *sequencer.Sequencer, client *casperman.Casperman) *jRPC.Server {
	logger := log.WithFields("module", accelcommon.RPC)
	services := []jRPC.Service{
		{
			Name: rpc.ACCELERATE,
			Service: rpc.NewAccelerateEndpoints(
				logger,
				cfg.WriteTimeout.Duration,
				cfg.ReadTimeout.Duration,
				seq,
				client,
			),
		},
	}

	return jRPC.NewServer(cfg, services, jRPC.WithLogger(logger.GetSugaredLogger()))
}

func logVersion() {
	log.Infow("Starting application",
		// version is already logged by default
		"gitRevision", accelerate.GitRev,
		"gitBranch", accelerate.GitBranch,
		"goVersion", runtime.Version(),
		"built", accelerate.BuildDate,
		"os/arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	)
}

func waitSignal(cancelFuncs []context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	for sig := range signals {
		switch sig {
		case os.Interrupt, os.Kill:
			log.Info("terminating application gracefully...")

			exitStatus := 0
			for _, cancel := range cancelFuncs {
				cancel()
			}
			os.Exit(exitStatus)
		}
	}
}
