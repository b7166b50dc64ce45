// Package rotation decides which certificates are due for renewal and drives
// renewals against an asynchronous certificate-issuing vault.
//
// # Components
//
//   - Evaluate / Evaluator classify remaining validity against a threshold.
//   - Poller submits an issuance and waits, by polling, for a terminal status
//     within a Budget. Running out of budget yields OutcomeTimedOut, which is
//     distinct from the vault reporting failure (OutcomeFailed).
//   - Sweep walks every certificate in a vault and rotates the ones that are
//     due, isolating per-certificate failures.
//   - Handler serves the on-demand actions list, check, rotate and create.
//   - Aggregator collects results into a timestamped Summary.
//
// Both entry points report through an Observer, which is how metrics, the
// audit store and notifications are attached.
//
// # Usage
//
//	client, _ := vault.NewAzureVault(cfg.Vault)
//	poller := rotation.NewPoller(client, logger)
//	sweep := rotation.NewSweep(client, rotation.NewEvaluator(), poller, nil, logger)
//
//	summary, err := sweep.Run(ctx, rotation.SweepOptions{
//	    ThresholdDays: 30,
//	    Budget:        rotation.ScheduledBudget,
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d rotated, %d failed\n", summary.Counts.Rotated, summary.Counts.Failed)
//
// # Concurrency
//
// A sweep processes certificates one at a time. Poller deduplicates
// concurrent SubmitAndWait calls for the same certificate name, so a
// scheduled sweep and an on-demand rotate never submit twice for one
// certificate from the same process.
package rotation
