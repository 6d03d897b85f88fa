// Package models defines the core domain models for the settlement engine.
//
// # Model Overview
//
//   - Transaction: a collected payment held in a tenant data store
//   - RoutingTemplate / Route: the split rule for one invoice or tenant
//   - AuditEntry: one persisted record per transfer-attempt outcome
//   - Merchant: a tenant's operating record (account id, status)
//   - Position: a rental-shelf slot advanced by the cash flow
//   - Withdrawal: a recorded quick-release payout
//   - FeeConfig: platform fee configuration per payment channel
//
// # Design Principles
//
//  1. **Plain structs**: no ORM tags; the sqlite store maps columns explicitly
//  2. **Minor units**: all money amounts are int64 minor units (no floats)
//  3. **Closed enums**: statuses and route roles are typed string constants,
//     handled exhaustively where they drive behavior
//  4. **No back-references**: records point at each other by invoice/reference
//     strings, matching the idempotency keys used against the ledger
package models
