package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shardline/shardline/chain"
	"github.com/shardline/shardline/client"
	"github.com/shardline/shardline/doomslug"
	prometheus "github.com/shardline/shardline/metrics"
	"github.com/shardline/shardline/params"
	"github.com/shardline/shardline/shardsmgr"
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/types"
)

var log = logrus.WithField("prefix", "node")

// nodeConfig bundles the flags main.go parses into the values buildNode
// needs, keeping the cli.Context itself out of the construction path (mirrors
// the teacher's convention of reading flags once at the edge).
type nodeConfig struct {
	DataDir               string
	AccountID             types.AccountID
	Validators            []types.AccountID
	EpochLength           uint64
	NumShards             uint64
	NumBlockProducerSeats int
	Archive               bool
	GCBlocksLimit         uint64
	GCNumEpochsToKeep     uint64
	MetricsAddr           string
}

// Node is the fully wired validator process: every collaborator the Client
// actor loop drives, plus the metrics HTTP service running alongside it.
type Node struct {
	cancel  context.CancelFunc
	store   *kv.Store
	chain   *chain.Chain
	client  *client.Client
	metrics *prometheus.Service
}

// buildNode constructs every collaborator and bootstraps genesis, but does
// not yet start the actor loop; call Start for that.
func buildNode(ctx context.Context, cfg nodeConfig) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)

	store, err := kv.New(cfg.DataDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	rt := newDevRuntime(store, cfg.Validators, cfg.EpochLength, cfg.NumShards)

	genesis := params.Genesis{
		EpochLength:           cfg.EpochLength,
		NumBlockProducerSeats: cfg.NumBlockProducerSeats,
		NumShards:             cfg.NumShards,
	}
	nodeParams := params.DefaultConfig()
	nodeParams.Archive = cfg.Archive
	nodeParams.GCBlocksLimit = cfg.GCBlocksLimit
	nodeParams.GCNumEpochsToKeep = cfg.GCNumEpochsToKeep

	c := chain.New(ctx, &chain.Config{
		Store:   store,
		Runtime: rt,
		Genesis: genesis,
		Params:  nodeParams,
	})
	rt.SetChain(c)

	if err := c.Bootstrap(genesisBlock(cfg.NumShards)); err != nil {
		cancel()
		return nil, fmt.Errorf("bootstrapping genesis: %w", err)
	}

	dsg := doomslug.New(nodeParams.MinBlockProductionDelay, nodeParams.MaxBlockProductionDelay)
	shards := shardsmgr.New()

	signer, err := newDevSigner(cfg.AccountID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generating validator key: %w", err)
	}
	verifier := newDevVerifier()
	verifier.Register(cfg.AccountID, signer.PublicKey())

	cl, err := client.New(&client.Config{
		Store:    store,
		Chain:    c,
		Doomslug: dsg,
		Shards:   shards,
		Runtime:  rt,
		Network:  newDevNetwork(),
		Signer:   signer,
		Verifier: verifier,
		Params:   nodeParams,
		Genesis:  genesis,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("constructing client: %w", err)
	}

	metricsSvc := prometheus.NewPrometheusService(cfg.MetricsAddr, cl)

	return &Node{
		cancel:  cancel,
		store:   store,
		chain:   c,
		client:  cl,
		metrics: metricsSvc,
	}, nil
}

// genesisBlock builds the height-0 block every fresh store bootstraps with:
// one empty chunk per shard, rooted at the empty trie.
func genesisBlock(numShards uint64) *types.Block {
	chunks := make([]types.ShardChunkHeader, numShards)
	for i := range chunks {
		chunks[i] = types.ShardChunkHeader{
			ShardID:        types.ShardID(i),
			HeightCreated:  0,
			HeightIncluded: 0,
			PrevStateRoot:  types.Hash{},
			GasLimit:       1_000_000,
		}
	}
	return &types.Block{
		Header: types.BlockHeader{
			Height:    0,
			PrevHash:  types.Hash{},
			ChunkMask: make([]bool, numShards),
		},
		Chunks: chunks,
	}
}

// Start launches the metrics service and the Client actor loop; it returns
// immediately, the actor loop runs until ctx passed to Run is cancelled.
func (n *Node) Start(ctx context.Context) {
	n.metrics.Start()
	go n.client.Run(ctx)
}

// Stop shuts down the metrics service and closes the store. The actor loop
// itself is stopped by cancelling the context passed to Start.
func (n *Node) Stop() error {
	n.cancel()
	if err := n.metrics.Stop(); err != nil {
		log.WithError(err).Warn("failed to stop metrics service")
	}
	if err := n.chain.Stop(); err != nil {
		log.WithError(err).Warn("failed to stop chain")
	}
	return n.store.Close()
}
