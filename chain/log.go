package chain

import (
	"github.com/sirupsen/logrus"

	"github.com/shardline/shardline/types"
)

var log = logrus.WithField("prefix", "chain")

func logBlockAccepted(hash types.Hash, status types.BlockStatus, provenance types.Provenance) {
	log.WithFields(logrus.Fields{
		"hash":       hash.Hex(),
		"status":     status.String(),
		"provenance": provenance.String(),
	}).Info("Block accepted")
}

func logGCRun(kind string, erased int, tail, forkTail uint64) {
	log.WithFields(logrus.Fields{
		"kind":      kind,
		"erased":    erased,
		"tail":      tail,
		"fork_tail": forkTail,
	}).Debug("GC invocation complete")
}
