package election

import "github.com/st3v3nmw/raftsim/internal/registry"

func init() {
	collection := &registry.Collection{
		Name: "Leader Election",
		Summary: `Servers elect a single leader, keep it while it can reach a majority,
and replace it when it is partitioned away or deposed.`,
	}

	collection.AddStage("leader-election", "A Cluster Elects One Leader", LeaderElection)
	collection.AddStage("partition", "Only A Majority Partition Elects A Leader", Partition)
	collection.AddStage("depose", "A Deposed Leader Is Replaced", Depose)

	registry.RegisterCollection("election", collection)
}
