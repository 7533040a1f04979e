/*
Package ports defines the driven ports (interfaces) of the Tendril action core.

These interfaces decouple the executor, scheduler and dispatcher from the
console's collaborators and from storage backends.

# Key Interfaces

  - Notifier: the notification surface (Show, ShowWithUndo).
  - Router: navigation, consulted together with a NavigationGate.
  - AuditSink: receives one entry per finished interaction.
  - OutputStore: bounded per-feature storage of output artifacts.
  - DistributedLocker: serializes commits for an entity across replicas.
*/
package ports
