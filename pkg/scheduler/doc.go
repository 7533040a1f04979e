/*
Package scheduler implements deferred commits: an optimistic local mutation
whose server effect is delayed so the user can undo it.

Each entity key has at most one cancellable commit. Scheduling a new mutation
for a key supersedes the pending one (cancelled and rolled back without a
notification). Cancellation flips the state and stops the timer in one
critical section, and the timer callback re-checks the state before
committing, so Commit runs at most once per schedule.

Commit outcomes:

  - nil error: committed, the optimistic state stays.
  - domain.ConflictError: the entity is already gone server-side; treated as success.
  - anything else: rolled back and reported to the notifier.
*/
package scheduler
