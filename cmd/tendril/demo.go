package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/aretw0/tendril/pkg/adapters/console"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/executor"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/aretw0/tendril/pkg/transfer"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through undo, deferred commit and artifact transfer in process",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Scheduler.Delay, _ = cmd.Flags().GetDuration("delay")
		cfg.Transfer.ReadyTimeout, _ = cmd.Flags().GetDuration("ready-timeout")

		out := cmd.OutOrStdout()
		tui.PrintBanner(out)

		notifier := console.NewNotifier(out)
		core, cleanup, err := newCore(notifier)
		if err != nil {
			return err
		}
		defer cleanup()

		d := &demo{out: out, core: core, notifier: notifier}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		steps := []struct {
			title string
			run   func(context.Context) error
		}{
			{"Delete with undo", d.undoBeforeCommit},
			{"Delete without undo", d.commitAfterWindow},
			{"Eligible targets", d.eligibleTargets},
			{"Deliver to an unmounted feature", d.deliverUnmounted},
		}
		for i, step := range steps {
			fmt.Fprintf(out, "\n%d. %s\n", i+1, step.title)
			if err := step.run(ctx); err != nil {
				return fmt.Errorf("%s: %w", step.title, err)
			}
		}
		return core.Shutdown(ctx)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().Duration("delay", time.Second, "Undo window for the demo")
	demoCmd.Flags().Duration("ready-timeout", 500*time.Millisecond, "How long a transfer waits for its target to mount")
}

type demo struct {
	out      io.Writer
	core     *tendril.Core
	notifier *console.Notifier
	rows     atomic.Int32
	deletes  atomic.Int32
	artifact domain.OutputArtifact
}

func (d *demo) deleteConnection(key string) executor.Descriptor {
	return executor.Descriptor{
		Kind:          domain.KindDelete,
		Label:         "Delete connection",
		Reversibility: domain.FullyReversible,
		Intent:        domain.Intent{domain.KeyEntityKey: key},
		Deferred: &scheduler.Mutation{
			ApplyOptimistic: func() { d.rows.Add(-1) },
			Rollback:        func() { d.rows.Add(1) },
			Commit: func(ctx context.Context) error {
				d.deletes.Add(1)
				return nil
			},
		},
		SuccessMessage: fmt.Sprintf("Connection %s deleted", key),
	}
}

func (d *demo) handle(ctx context.Context, key string) (*scheduler.Handle, error) {
	res, err := d.core.Execute(ctx, d.deleteConnection(key))
	if err != nil {
		return nil, err
	}
	h, ok := res.(*scheduler.Handle)
	if !ok {
		return nil, errors.New("deferred interaction returned no handle")
	}
	return h, nil
}

func (d *demo) undoBeforeCommit(ctx context.Context) error {
	d.rows.Store(1)
	h, err := d.handle(ctx, "conn-1")
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "   rows visible: %d\n", d.rows.Load())

	if !d.notifier.Undo() {
		return errors.New("undo expired")
	}
	<-h.Done()
	fmt.Fprintf(d.out, "   rows visible: %d, delete calls: %d (%s)\n", d.rows.Load(), d.deletes.Load(), h.State())
	return nil
}

func (d *demo) commitAfterWindow(ctx context.Context) error {
	h, err := d.handle(ctx, "conn-1")
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "   waiting %s for the undo window to close...\n", h.Delay())
	select {
	case <-h.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Fprintf(d.out, "   rows visible: %d, delete calls: %d (%s)\n", d.rows.Load(), d.deletes.Load(), h.State())
	return h.Err()
}

func (d *demo) eligibleTargets(ctx context.Context) error {
	artifact, err := d.core.Outputs().Register(ctx, domain.FeatureEnrichment, domain.ArtifactDraft{
		Type:    domain.OutputTable,
		Title:   "Enriched leads",
		Payload: [][]string{{"company", "domain"}, {"Acme", "acme.test"}},
		Format:  "rows",
	})
	if err != nil {
		return err
	}
	d.artifact = artifact

	targets, err := d.core.Dispatcher().EligibleTargets(ctx, artifact.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "   %s %q can go to:\n", artifact.Type, artifact.Title)
	for _, t := range targets {
		fmt.Fprintf(d.out, "   - %-14s %s\n", t.Feature, t.Label)
	}
	return nil
}

func (d *demo) deliverUnmounted(ctx context.Context) error {
	view := transfer.NewInbox(domain.FeatureVisualization, domain.TransferActions()...)
	defer view.Unmount()

	target, _ := d.core.Routes().Route(domain.FeatureVisualization)
	if router, ok := d.core.Router().(*memory.Router); ok {
		router.OnNavigate = func(path string) {
			if path != target {
				return
			}
			// The view takes a moment to mount after the route changes.
			go func() {
				time.Sleep(cfg.Transfer.ReadyTimeout / 4)
				if err := view.Mount(d.core.Dispatcher()); err != nil {
					fmt.Fprintf(d.out, "   mount failed: %v\n", err)
				}
			}()
		}
	}

	err := d.core.Deliver(ctx, domain.TransferRequest{Target: domain.FeatureVisualization, ArtifactID: d.artifact.ID})
	if err != nil {
		return err
	}
	for _, delivery := range view.Drain() {
		fmt.Fprintf(d.out, "   %s received %q via %s (route %s)\n",
			domain.FeatureVisualization, delivery.Artifact.Title, delivery.Action, d.core.Router().CurrentRoute())
	}

	err = d.core.Deliver(ctx, domain.TransferRequest{Target: domain.FeatureReports, ArtifactID: d.artifact.ID})
	var timeout *domain.DeliveryTimeoutError
	if !errors.As(err, &timeout) {
		return fmt.Errorf("expected a delivery timeout, got %v", err)
	}
	fmt.Fprintf(d.out, "   %s never mounted: %v\n", domain.FeatureReports, err)
	return nil
}
