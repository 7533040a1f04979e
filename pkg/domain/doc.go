/*
Package domain contains the core types shared by the Tendril action core.

It defines the closed feature, output type and transfer action enums, the
Interaction lifecycle, the artifacts exchanged between features, and the error
taxonomy that decides whether a failed mutation is rolled back. The package is
kept free of I/O and scheduling so every other package can depend on it.

# Key Entities

  - Feature / OutputType / TransferAction: closed enums with exhaustive tables.
  - Interaction: one user action routed through the executor.
  - Intent: schema-free metadata of an interaction, keyed by KeyEntityKey.
  - OutputArtifact: an immutable artifact produced by a feature.
  - LifecycleHooks: observability callbacks for interactions, commits and deliveries.
*/
package domain
