// Package kiwi orchestrates backups and restores of remote infrastructures.
//
// # Overview
//
// Kiwi sits between an operator and a remote action backend. It never touches
// the target machines itself: every operation is dispatched to the backend,
// which reaches the infrastructure through a chain of SSH hops. Kiwi owns the
// parts around that dispatch:
//   - Hop credentials: cached per host, asked for when missing
//   - Installation state: whether the backup engine is installed and a
//     storage is connected, which gates backup creation
//   - Orchestration: install, uninstall, backup, restore and backup deletion
//   - Job polling: asynchronous jobs are followed until they settle
//   - Storage mappings: which external storage each infrastructure uses
//
// # Architecture
//
//	┌─────────────────┐       ┌─────────────────┐
//	│   kiwi CLI      │       │  HTTP API / WS  │
//	└────────┬────────┘       └────────┬────────┘
//	         └──────────┬──────────────┘
//	           ┌────────▼────────┐
//	           │  Orchestrator   │◄─── credentials, installation, mappings
//	           └────────┬────────┘
//	           ┌────────▼────────┐       ┌─────────────────┐
//	           │   Dispatcher    │──────►│ Action backend  │
//	           └────────┬────────┘       └─────────────────┘
//	           ┌────────▼────────┐
//	           │ Poller / Ledger │ (memory or EVE/CouchDB)
//	           └─────────────────┘
//
// # Usage
//
// Start the API server:
//
//	kiwi server --config kiwi.yaml
//
// Create a backup from the command line, answering credential prompts:
//
//	kiwi backup create 42 --hops hops.yaml --name nightly --storage ext-3 --wait
//
// Check that a hop chain is reachable before using it:
//
//	kiwi hops check --hops hops.yaml --save
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (kiwi.yaml, see kiwi config init)
//   - Environment variables (KIWI_ prefix, e.g. KIWI_BACKEND_URL)
//
// # API Endpoints
//
// Per infrastructure (/api/v1/infras/:id):
//   - GET    /installation               - Cached installation status
//   - POST   /installation/refresh       - Fetch installation status
//   - POST   /install                    - Install the backup engine
//   - POST   /install-minio              - Install a MinIO bucket
//   - POST   /uninstall                  - Remove the backup engine
//   - POST   /backups                    - Create a backup
//   - POST   /backups/delete             - Delete a backup
//   - POST   /restores                   - Restore a backup
//   - POST   /namespaces                 - List namespaces
//   - GET    /storages                   - Linked storages
//   - POST   /storages                   - Link a storage
//   - DELETE /storages/:storageId        - Unlink a storage
//
// Credentials (/api/v1/auth-sessions):
//   - GET    /                           - Open credential sessions
//   - GET    /:id                        - One session
//   - POST   /:id/submit                 - Submit credentials and resume
//   - DELETE /:id                        - Cancel a session
//
// Jobs and storages:
//   - GET    /api/v1/jobs                - Recorded jobs
//   - GET    /api/v1/jobs/:id            - One job
//   - POST   /api/v1/jobs/:id/watch      - Resume polling a job
//   - DELETE /api/v1/jobs/:id/watch      - Stop polling a job
//   - GET    /api/v1/storages            - External storages
//   - POST   /api/v1/storage-mappings/batch        - Mappings of many infras
//   - POST   /api/v1/storage-mappings/disconnected - Infras without storage
//
// Operations that need credentials the store does not hold answer 428 with
// the open session; submitting that session resumes the operation.
//
// Live events (job updates, installation changes) are pushed on /ws.
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Build the binary:
//
//	go build -o kiwi ./cmd/kiwi
package kiwi
