// Command shardlined runs a single sharded-chain validator process: it owns
// one BoltDB store and drives Chain/Doomslug/ShardsManager/Client on one
// actor loop (spec.md §2, §5). It has no peer-to-peer transport of its own
// (spec.md §1 Non-goals); devNetwork stands in for one so the actor loop has
// somewhere to send its outbound calls.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/trace"

	logutil "github.com/shardline/shardline/logging"
	"github.com/shardline/shardline/types"
)

var (
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory the node's BoltDB file lives in",
		Value: "./shardline-data",
	}
	accountIDFlag = &cli.StringFlag{
		Name:  "account-id",
		Usage: "This node's own validator account id",
		Value: "validator-0",
	}
	validatorsFlag = &cli.StringFlag{
		Name:  "validators",
		Usage: "Comma-separated fixed validator rotation, e.g. validator-0,validator-1",
		Value: "validator-0",
	}
	epochLengthFlag = &cli.Uint64Flag{
		Name:  "epoch-length",
		Usage: "Number of blocks per epoch",
		Value: 500,
	}
	numShardsFlag = &cli.Uint64Flag{
		Name:  "num-shards",
		Usage: "Number of shards the runtime assigns accounts across",
		Value: 4,
	}
	numSeatsFlag = &cli.IntFlag{
		Name:  "num-block-producer-seats",
		Usage: "Number of block producer seats per epoch",
		Value: 1,
	}
	archiveFlag = &cli.BoolFlag{
		Name:  "archive",
		Usage: "Run in archive mode: retain full chunk history, only GC trie state",
	}
	gcBlocksLimitFlag = &cli.Uint64Flag{
		Name:  "gc-blocks-limit",
		Usage: "Max canonical blocks erased per GC pass",
		Value: 2,
	}
	gcEpochsToKeepFlag = &cli.Uint64Flag{
		Name:  "gc-num-epochs-to-keep",
		Usage: "Number of trailing epochs canonical tail GC retains",
		Value: 5,
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "Address the /metrics, /healthz and /goroutinez routes are served on",
		Value: ":8080",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "If set, also write logs to this file",
	}
	genesisTimeFlag = &cli.StringFlag{
		Name:  "genesis-time",
		Usage: "RFC3339 timestamp to hold startup until, for coordinating a multi-node launch; empty starts immediately",
	}
	traceSampleFractionFlag = &cli.Float64Flag{
		Name:  "trace-sample-fraction",
		Usage: "Fraction of spans to sample (0 disables tracing overhead beyond the default sampler)",
		Value: 0,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "shardlined"
	app.Usage = "sharded-chain validator node"
	app.Flags = []cli.Flag{
		dataDirFlag, accountIDFlag, validatorsFlag, epochLengthFlag, numShardsFlag,
		numSeatsFlag, archiveFlag, gcBlocksLimitFlag, gcEpochsToKeepFlag, metricsAddrFlag,
		logFileFlag, genesisTimeFlag, traceSampleFractionFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("shardlined exited with error")
	}
}

func run(cliCtx *cli.Context) error {
	if logFile := cliCtx.String(logFileFlag.Name); logFile != "" {
		if err := logutil.ConfigurePersistentLogging(logFile); err != nil {
			return fmt.Errorf("configuring persistent logging: %w", err)
		}
	}

	trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(cliCtx.Float64(traceSampleFractionFlag.Name))})

	if raw := cliCtx.String(genesisTimeFlag.Name); raw != "" {
		genesisTime, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("parsing --%s: %w", genesisTimeFlag.Name, err)
		}
		if genesisTime.After(time.Now()) {
			logutil.CountdownToGenesis(genesisTime, 30)
		}
	}

	cfg := nodeConfig{
		DataDir:               cliCtx.String(dataDirFlag.Name),
		AccountID:             types.AccountID(cliCtx.String(accountIDFlag.Name)),
		Validators:            parseValidators(cliCtx.String(validatorsFlag.Name)),
		EpochLength:           cliCtx.Uint64(epochLengthFlag.Name),
		NumShards:             cliCtx.Uint64(numShardsFlag.Name),
		NumBlockProducerSeats: cliCtx.Int(numSeatsFlag.Name),
		Archive:               cliCtx.Bool(archiveFlag.Name),
		GCBlocksLimit:         cliCtx.Uint64(gcBlocksLimitFlag.Name),
		GCNumEpochsToKeep:     cliCtx.Uint64(gcEpochsToKeepFlag.Name),
		MetricsAddr:           cliCtx.String(metricsAddrFlag.Name),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := buildNode(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building node: %w", err)
	}
	node.Start(ctx)
	log.WithField("datadir", cfg.DataDir).WithField("account", cfg.AccountID).Info("shardlined started")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Info("shutting down")
	cancel()
	return node.Stop()
}

func parseValidators(raw string) []types.AccountID {
	parts := strings.Split(raw, ",")
	out := make([]types.AccountID, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, types.AccountID(p))
		}
	}
	return out
}
