/*
Package tendril is the interaction layer of a multi-feature console: it turns
user actions into predictable, reversible operations and moves typed outputs
between features.

# Concept

Every mutating action goes through the Executor, which classifies it by
reversibility. Fully reversible actions are applied optimistically and
committed by the Scheduler once their undo window closes. Features publish
what they produce to the Output Registry; the Dispatcher delivers those
artifacts to any feature whose capability entry accepts their type, navigating
to it and waiting for it to mount when needed.

Core wires one instance of each component. Nothing is global, so tests build a
fresh Core and call Reset between cases.

# Usage

	core, err := tendril.New(tendril.WithDelay(5 * time.Second))
	if err != nil {
		log.Fatal(err)
	}
	defer core.Shutdown(context.Background())

	// Delete with undo: the row disappears now, the server call happens later.
	res, err := core.Execute(ctx, executor.Descriptor{
		Kind:          domain.KindDelete,
		Label:         "Delete connection",
		Reversibility: domain.FullyReversible,
		Intent:        domain.Intent{domain.KeyEntityKey: "conn-1"},
		Deferred: &scheduler.Mutation{
			ApplyOptimistic: hideRow,
			Rollback:        showRow,
			Commit:          api.DeleteConnection,
		},
	})

	// Send a table to spreadsheets.
	err = core.Deliver(ctx, domain.TransferRequest{
		Target:     domain.FeatureSpreadsheets,
		ArtifactID: artifact.ID,
	})

# Bridges

The same Core is exposed over HTTP (pkg/adapters/http) and as MCP tools
(pkg/adapters/mcp). The tendril command serves both.
*/
package tendril
