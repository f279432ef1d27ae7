// Package agent contains the orchestration engine that turns a product request
// into generated, built and runtime-validated server code. A Manager owns one
// FactSheet per run and lends it to each role (SolutionArchitect,
// BackendDeveloper) in order; every role drives its own state machine from
// Discovery to Finished and reports fatal conditions as coded errors.
package agent
