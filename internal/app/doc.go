// Package app composes the rewards core into a running application.
//
// The app package sits above the engines and is responsible for wiring them
// together with their stores and lifecycle. It carries no business logic of
// its own; business logic lives in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, store defaults, engine wiring
//	├── domain/             # Domain models (pure data structures)
//	│   ├── ledger/         # Accounts, entries, apply results
//	│   ├── referral/       # Referral edges and statuses
//	│   ├── membership/     # Level definitions
//	│   └── dividend/       # Pools, holdings, distributions
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # AccountStore, LedgerStore, ReferralStore, DividendStore
//	│   ├── memory/         # In-memory implementation for development and tests
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Engines: ledger, referral, commission, membership, dividend
//	├── httpapi/            # HTTP handlers for the collaborator surface
//	├── config/             # Level table and tunables as immutable snapshots
//	├── backoff/            # Bounded retry for transient storage errors
//	├── notify/             # Promotion/commission hooks (Redis publisher)
//	├── metrics/            # Prometheus collectors
//	├── system/             # Service lifecycle manager
//	└── runtime/            # Environment-driven assembly and HTTP server
//
// # Dependency Direction
//
// cmd/rewardsd builds internal/app/runtime, which assembles stores, config
// and middleware and hands them to app.New. Engines depend on the storage
// interfaces and on each other only through small consumer-side interfaces
// (Crediter, ChainWalker, TeamCounter) declared where they are used.
package app
