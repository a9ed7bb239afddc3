package worker

// Successor dispatch, join evaluation and execution status bookkeeping
// live in internal/router.Dispatcher, shared with the approval-resume
// path — see pool.go's use of p.dispatcher.
