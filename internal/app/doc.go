// Package app composes the lottery engine into a running application.
//
// The layers underneath it:
//
//	internal/app/
//	├── application.go      # Wiring and lifecycle
//	├── domain/             # Pure data models (lottery, player)
//	├── ledger/             # Append-only weighted ticket ledger
//	├── chain/              # External token ledger boundary
//	├── services/
//	│   ├── engine/         # Deposits, rounds, settlement, bonus
//	│   ├── randsource/     # Randomness beacon and proof verification
//	│   └── scheduler/      # Cron-driven round closing
//	├── storage/            # Journal interfaces, memory and postgres
//	├── httpapi/            # REST surface
//	├── metrics/            # Prometheus collectors
//	└── system/             # Lifecycle manager
//
// Business rules live in services/engine; this package only wires
// collaborators together and manages their start/stop order.
package app
