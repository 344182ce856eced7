// Package params defines the fixed constants and the operator-configurable
// options that the chain, client, doomslug and shardsmgr packages are
// parameterized by (spec.md §4.1, §6).
package params

import "time"

const (
	// GCForkCleanStep bounds how many heights of fork-tail sweep happen per
	// clearForkTail call, i.e. per Chain.RunGC outside archive mode
	// (spec.md §4.1).
	GCForkCleanStep uint64 = 1000

	// TxRoutingHeightHorizon bounds how many upcoming heights ahead we will
	// forward a transaction to next-epoch validators (spec.md §4.2 step 4).
	TxRoutingHeightHorizon uint64 = 4

	// NumRebroadcastBlocks caps how many recently-accepted blocks the head
	// watchdog will keep rebroadcasting candidates for (nearcore's
	// client.rs: NUM_REBROADCAST_BLOCKS).
	NumRebroadcastBlocks int = 30

	// EpochSyncRequestTimeout bounds how long an EpochSync request waits for
	// a response before re-selecting a peer.
	EpochSyncRequestTimeout = time.Second
)

// Genesis holds protocol parameters fixed at genesis and read-only
// thereafter: epoch layout and the GC retention horizon.
type Genesis struct {
	EpochLength           uint64
	NumBlockProducerSeats int
	NumShards             uint64
}

// GCStopHeight is the distance below head.FinalHeight at which canonical
// tail GC stops advancing (spec.md §4.1 table): gc_num_epochs_to_keep *
// epoch_length.
func GCStopHeight(g Genesis, gcNumEpochsToKeep uint64) uint64 {
	return gcNumEpochsToKeep * g.EpochLength
}

// Config is the subset of node configuration the core cares about
// (spec.md §6 "Configuration (core-relevant options)").
type Config struct {
	Archive                  bool
	GCBlocksLimit            uint64
	GCNumEpochsToKeep        uint64
	BlockFetchHorizon        uint64
	StateSyncTimeout         time.Duration
	MinBlockProductionDelay  time.Duration
	MaxBlockProductionDelay  time.Duration
	MaxBlockWaitDelay        time.Duration
	HeaderSyncInitialTimeout time.Duration
	ProduceEmptyBlocks       bool
	GasLimit                 uint64
}

// DefaultConfig mirrors the operational defaults a long-running validator
// would run with; tests override individual fields.
func DefaultConfig() Config {
	return Config{
		Archive:                  false,
		GCBlocksLimit:            2,
		GCNumEpochsToKeep:        5,
		BlockFetchHorizon:        50,
		StateSyncTimeout:         15 * time.Second,
		MinBlockProductionDelay:  600 * time.Millisecond,
		MaxBlockProductionDelay:  2 * time.Second,
		MaxBlockWaitDelay:        6 * time.Second,
		HeaderSyncInitialTimeout: 10 * time.Second,
		ProduceEmptyBlocks:       true,
		GasLimit:                 1_000_000,
	}
}
