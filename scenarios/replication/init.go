package replication

import "github.com/st3v3nmw/raftsim/internal/registry"

func init() {
	collection := &registry.Collection{
		Name: "Log Replication",
		Summary: `The leader replicates commands to every server, survives disk faults
and grows the cluster with new voters.`,
	}

	collection.AddStage("replication", "Commands Reach Every Server", Replication)
	collection.AddStage("disk-fault", "Failed Writes Are Retried", DiskFault)
	collection.AddStage("growth", "New Servers Join The Cluster", Growth)

	registry.RegisterCollection("replication", collection)
}
