// Package perf runs surge load tests from Go code.
//
// The CLI is a thin layer over this package. A test is either loaded from a
// YAML or JSON file or built in code:
//
//	cfg, _ := perf.LoadConfig("user-counter.yaml")
//	result, err := perf.RunTest(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("checks: %+v, passed: %v\n", result.ChecksTotal(), result.Passed)
//
// The built-in user-counter workload can be run directly against a base URL:
//
//	runner := perf.NewRunner(nil)
//	result, err := runner.RunScenario(ctx,
//	    &perf.Schedule{Stages: []perf.Stage{{Duration: 30 * time.Second, Target: 200}}},
//	    perf.Canonical("http://localhost:8080"))
//
// Cancelling ctx stops the run gracefully: VUs finish their iteration in
// flight and the partial result is returned with a warning.
package perf
