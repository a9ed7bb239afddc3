package testutil

import "github.com/nodeflow/core/internal/domain"

// SimpleChainWorkflow builds the S1 fixture: trigger -> A -> B, where A and
// B are Transformer nodes that stamp provenance fields onto the event's
// data, grounded on the teacher's CreateSimpleWorkflow.
func SimpleChainWorkflow() *domain.Workflow {
	return NewWorkflow("Simple Chain").
		AddNode("trigger", domain.NodeKindTrigger, nil).
		AddNode("A", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) {
				event.data.step = "A";
				event.data.processed_by_a = true;
				return event;
			}`,
		}).
		AddNode("B", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) {
				if (event.data.processed_by_a !== true) {
					throw new Error("expected processed_by_a");
				}
				event.data.step = "B";
				event.data.processed_by_b = true;
				return event;
			}`,
		}).
		Connect("trigger", "A").
		Connect("A", "B").
		MustBuild()
}

// ConditionalSplitWorkflow builds the S2 fixture: trigger -> condition,
// branching to a high_value_handler or low_value_handler Transformer on
// `event.data.value > 50` (strict).
func ConditionalSplitWorkflow() *domain.Workflow {
	return NewWorkflow("Conditional Split").
		AddNode("trigger", domain.NodeKindTrigger, nil).
		AddNode("route", domain.NodeKindCondition, map[string]any{
			"condition": `function condition(event) { return event.data.value > 50; }`,
		}).
		AddNode("high_value_handler", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { event.data.category = "high"; return event; }`,
		}).
		AddNode("low_value_handler", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { event.data.category = "low"; return event; }`,
		}).
		Connect("trigger", "route").
		ConnectBranch("route", "high_value_handler", domain.BranchTrue).
		ConnectBranch("route", "low_value_handler", domain.BranchFalse).
		MustBuild()
}

// HTTPLoopWorkflow builds the S3 fixture: trigger -> an HttpRequest node
// configured to loop twice at a 3s interval.
func HTTPLoopWorkflow(url string) *domain.Workflow {
	return NewWorkflow("HTTP Loop").
		AddNode("trigger", domain.NodeKindTrigger, nil).
		AddNode("poll", domain.NodeKindHTTPRequest, map[string]any{
			"url":    url,
			"method": "GET",
			"loop_config": map[string]any{
				"max_iterations": float64(2),
				"interval":       float64(3),
			},
		}).
		Connect("trigger", "poll").
		MustBuild()
}

// RetryExhaustionWorkflow builds the S4 fixture: trigger -> an HttpRequest
// node with max_attempts=3 and failure_action=Stop against an endpoint
// expected to return 500.
func RetryExhaustionWorkflow(url string) *domain.Workflow {
	return NewWorkflow("Retry Exhaustion").
		AddNode("trigger", domain.NodeKindTrigger, nil).
		AddNode("call", domain.NodeKindHTTPRequest, map[string]any{
			"url":            url,
			"method":         "GET",
			"max_attempts":   float64(3),
			"failure_action": "Stop",
		}).
		Connect("trigger", "call").
		MustBuild()
}

// DelayResumeWorkflow builds the S5 fixture: trigger -> Delay(seconds) ->
// a Transformer that marks the event resumed, to assert the delay node's
// step attempt count stays at 1 across a simulated restart.
func DelayResumeWorkflow(seconds float64) *domain.Workflow {
	return NewWorkflow("Delay Resume").
		AddNode("trigger", domain.NodeKindTrigger, nil).
		AddNode("wait", domain.NodeKindDelay, map[string]any{
			"duration_seconds": seconds,
		}).
		AddNode("after", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { event.data.resumed = true; return event; }`,
		}).
		Connect("trigger", "wait").
		Connect("wait", "after").
		MustBuild()
}

// CancellationWorkflow builds the S6 fixture: trigger -> a parked Approval
// node, for asserting that cancelling a waiting execution dead-letters the
// approval's job within one scheduler tick.
func CancellationWorkflow() *domain.Workflow {
	return NewWorkflow("Cancellation").
		AddNode("trigger", domain.NodeKindTrigger, nil).
		AddNode("approve", domain.NodeKindApproval, map[string]any{
			"message": "approve {{data.request_id}}",
		}).
		Connect("trigger", "approve").
		MustBuild()
}

// JoinWorkflow builds a diamond fan-out/fan-in fixture (trigger -> A, B in
// parallel -> join), for testing the router's multi-parent merge.
func JoinWorkflow() *domain.Workflow {
	return NewWorkflow("Join").
		AddNode("trigger", domain.NodeKindTrigger, nil).
		AddNode("A", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { event.data.from_a = true; return event; }`,
		}).
		AddNode("B", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { event.data.from_b = true; return event; }`,
		}).
		AddNode("join", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { event.data.joined = true; return event; }`,
		}).
		Connect("trigger", "A").
		Connect("trigger", "B").
		Connect("A", "join").
		Connect("B", "join").
		MustBuild()
}

// ConditionalJoinWorkflow builds trigger -> route(Condition), branching to
// high/low Transformer handlers that both feed a downstream join, for
// testing that a join sitting behind an untaken Condition branch still
// resolves instead of waiting forever on a step that is never created.
func ConditionalJoinWorkflow() *domain.Workflow {
	return NewWorkflow("Conditional Join").
		AddNode("trigger", domain.NodeKindTrigger, nil).
		AddNode("route", domain.NodeKindCondition, map[string]any{
			"condition": `function condition(event) { return event.data.value > 50; }`,
		}).
		AddNode("high_value_handler", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { event.data.category = "high"; return event; }`,
		}).
		AddNode("low_value_handler", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { event.data.category = "low"; return event; }`,
		}).
		AddNode("join", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { event.data.joined = true; return event; }`,
		}).
		Connect("trigger", "route").
		ConnectBranch("route", "high_value_handler", domain.BranchTrue).
		ConnectBranch("route", "low_value_handler", domain.BranchFalse).
		Connect("high_value_handler", "join").
		Connect("low_value_handler", "join").
		MustBuild()
}

// DropWorkflow builds a trigger -> Transformer(returns null, Drop) fixture,
// for asserting a Drop ends its path without a downstream successor.
func DropWorkflow() *domain.Workflow {
	return NewWorkflow("Drop").
		AddNode("trigger", domain.NodeKindTrigger, nil).
		AddNode("filter", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { return null; }`,
		}).
		AddNode("never", domain.NodeKindTransformer, map[string]any{
			"transformer": `function transformer(event) { return event; }`,
		}).
		Connect("trigger", "filter").
		Connect("filter", "never").
		MustBuild()
}
