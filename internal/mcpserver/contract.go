package mcpserver

// WorkflowContract describes how agents should use the task tools.
const WorkflowContract = `# Shape Task Workflow

Work is organised into briefs and tasks.

## Identifiers

- ` + "`b-xxxxxxx`" + ` is a brief. Its tasks are ` + "`b-xxxxxxx.1`" + `, ` + "`b-xxxxxxx.2`" + `, ...
- ` + "`b-xxxxxxx.1.1`" + ` is a subtask of ` + "`b-xxxxxxx.1`" + `.
- ` + "`t-xxxxxxx`" + ` is a standalone task with no brief.

Identifiers are never reused. Copy them exactly; do not invent them.

## Loop

1. Call ` + "`ready_tasks`" + ` to see what can be started now.
2. Pick one, call ` + "`start_task`" + `, do the work.
3. Call ` + "`complete_task`" + ` when done. Newly unblocked tasks appear in ` + "`ready_tasks`" + `.
4. Use ` + "`show_task`" + ` to see a task's blockers, dependents and subtasks.

## Working alongside other agents

- ` + "`next_task`" + ` recommends one ready task nobody else holds. Pass ` + "`agent`" + ` so your
  own claims still count as available to you.
- ` + "`claim_task`" + ` before starting so others skip it. Claims lapse after the
  configured timeout (4h by default); claim again to refresh. Take over a live
  claim only with ` + "`force`" + ` and a ` + "`reason`" + `.
- Leave ` + "`add_note`" + ` notes as you go and ` + "`link_artifact`" + ` the commits and files you touch.
- ` + "`block_task`" + ` when stuck on something outside the graph; ` + "`unblock_task`" + ` when clear.
- ` + "`handoff_task`" + ` when stopping early: it records why and releases the claim.
- ` + "`complete_task`" + ` releases your claim too.
- ` + "`get_context`" + ` with ` + "`compact`" + ` gives the whole board in a few lines.

## Adding work

- ` + "`add_task`" + ` with ` + "`parent`" + ` set to a brief id appends the next task to that brief.
- With a task id as parent the new task is a subtask.
- Without a parent the task is standalone.
- ` + "`add_dependency`" + ` records that one task is blocked by another. Edges that
  would form a cycle are rejected; reorganise instead of forcing them.

## Status values

` + "`todo`" + `, ` + "`in_progress`" + `, ` + "`done`" + `. A task is ready when it is not done
and every task it is blocked by is done.
`
