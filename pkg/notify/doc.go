// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers patient and staff notifications over multiple
// channels (email, SMS, phone, in-app, push, webhook) with templated
// content, bounded retry with exponential backoff, and audit coverage
// of every lifecycle transition.
package notify
