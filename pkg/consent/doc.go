// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package consent implements the consent registry: the single decision
// point for patient data access. It layers consent records, explicit
// privacy preferences, a role default table and emergency overrides
// into one access level per request, applies field-level masking, and
// serves the GDPR export and erasure operations.
package consent
