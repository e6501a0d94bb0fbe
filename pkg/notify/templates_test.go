// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/telekom/clinical-compliance/pkg/system"
)

func TestRenderSubstitutesTokens(t *testing.T) {
	out := Render("Dear {patientName}, see you on {date}.", map[string]string{
		"patientName": "Jane Roe",
		"date":        "2026-09-01",
	})
	assert.Equal(t, "Dear Jane Roe, see you on 2026-09-01.", out)
}

func TestRenderLeavesUnresolvedTokensLiteral(t *testing.T) {
	out := Render("Hello {patientName}, ref {unknownToken}.", map[string]string{
		"patientName": "Jane Roe",
	})
	assert.Equal(t, "Hello Jane Roe, ref {unknownToken}.", out)

	// no data at all
	assert.Equal(t, "{a} {b}", Render("{a} {b}", nil))
}

func TestRenderIgnoresMalformedBraces(t *testing.T) {
	out := Render("set {a b} and {c-d} alone", map[string]string{"a b": "x", "c-d": "y"})
	assert.Equal(t, "set {a b} and {c-d} alone", out)
}

func TestResolveFallsBack(t *testing.T) {
	// exact match
	tpl := builtinTemplates.resolve("appointment_reminder", ChannelSMS)
	assert.Contains(t, tpl.Body, "{appointmentDate}")

	// unknown channel falls back to the type's email template
	tpl = builtinTemplates.resolve("appointment_reminder", ChannelWebhook)
	assert.Equal(t, "Appointment reminder", tpl.Subject)

	// unknown type falls back to the generic default
	tpl = builtinTemplates.resolve("no_such_type", ChannelEmail)
	assert.Equal(t, defaultTemplate, tpl)
}

func TestInAppAdapterInbox(t *testing.T) {
	a := NewInAppAdapter(system.NewTestLogger())

	results, err := a.Send(context.Background(), []string{"nurse-7", "doctor-3"}, Content{Body: "first"}, nil)
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success)
	}

	_, err = a.Send(context.Background(), []string{"nurse-7"}, Content{Body: "second"}, nil)
	assert.NoError(t, err)

	inbox := a.Inbox("nurse-7")
	assert.Len(t, inbox, 2)
	assert.Equal(t, "first", inbox[0].Body)
	assert.Equal(t, "second", inbox[1].Body)
	assert.Len(t, a.Inbox("doctor-3"), 1)
	assert.Empty(t, a.Inbox("stranger"))
}
