// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package audit provides the append-only, compliance-tagged audit trail
// beneath the clinical records services.
//
// The Trail type is the entry point:
//   - Log appends immutable entries with derived HIPAA/GDPR metadata
//   - durable-write failures degrade to a bounded local buffer and are
//     never surfaced to the audited operation
//   - critical and emergency-access entries additionally raise a
//     fire-and-forget real-time alert through an AlertPublisher
//   - Query and Export serve filtered, append-order views for
//     compliance consumers
package audit
