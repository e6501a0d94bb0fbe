// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"regexp"
)

// Template is a subject/body pair with {token} placeholders.
type Template struct {
	Subject string
	Body    string
}

// Templates maps notification type -> channel -> template. The built-in
// table can be replaced per deployment; unknown type/channel pairs fall
// back to a generic template.
type Templates map[string]map[Channel]Template

var tokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Render substitutes {token} placeholders from data. Unresolved tokens
// stay literal so a missing value is visible instead of silently blank.
func Render(tpl string, data map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := data[key]; ok {
			return v
		}
		return match
	})
}

var defaultTemplate = Template{
	Subject: "Notification: {type}",
	Body:    "You have a new notification.",
}

var builtinTemplates = Templates{
	"appointment_reminder": {
		ChannelEmail: {
			Subject: "Appointment reminder",
			Body:    "Dear {patientName}, this is a reminder of your appointment on {appointmentDate} with {providerName}.",
		},
		ChannelSMS: {
			Body: "Reminder: appointment on {appointmentDate} with {providerName}.",
		},
	},
	"consent_expiry_warning": {
		ChannelEmail: {
			Subject: "Your consent is about to expire",
			Body:    "Your {consentType} consent expires on {expiryDate}. Please renew it to avoid interruption of care coordination.",
		},
		ChannelInApp: {
			Body: "Your {consentType} consent expires on {expiryDate}.",
		},
	},
	"consent_revoked": {
		ChannelEmail: {
			Subject: "Consent revoked for patient {patientId}",
			Body:    "Consent {consentId} ({consentType}) for patient {patientId} was revoked by {revokedBy}. Reason: {reason}. Downstream data use must stop.",
		},
		ChannelInApp: {
			Body: "Consent {consentId} for patient {patientId} was revoked.",
		},
	},
	"emergency_access_alert": {
		ChannelEmail: {
			Subject: "EMERGENCY ACCESS requested for patient {patientId}",
			Body:    "{requester} requested emergency access to {dataType} of patient {patientId}. Reason: {reason}. Urgency: {urgency}. Review request {requestId} immediately.",
		},
		ChannelSMS: {
			Body: "EMERGENCY ACCESS: {requester} -> patient {patientId} ({dataType}). Request {requestId}.",
		},
		ChannelInApp: {
			Body: "Emergency access requested by {requester} for patient {patientId}.",
		},
	},
	"delivery_failure": {
		ChannelEmail: {
			Subject: "Notification delivery failed permanently",
			Body:    "Notification {notificationId} ({notificationType}) could not be delivered after {attempts} attempts. Last error: {error}.",
		},
	},
}

// resolve picks the template for a type/channel pair, falling back to
// the type's email template and finally the generic default.
func (t Templates) resolve(notificationType string, channel Channel) Template {
	if byChannel, ok := t[notificationType]; ok {
		if tpl, ok := byChannel[channel]; ok {
			return tpl
		}
		if tpl, ok := byChannel[ChannelEmail]; ok {
			return tpl
		}
	}
	return defaultTemplate
}
