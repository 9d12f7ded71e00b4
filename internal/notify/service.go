package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// SMSSender sends an SMS message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Service assembles and sends the post-call report the Background
// Dispatcher's post_call job produces: a short SMS recap to the caller (and
// any secondary phone captured in the claim) plus a fuller email brief to
// the operator ops inbox.
type Service struct {
	email    EmailSender
	sms      SMSSender
	opsInbox string
	logger   *logging.Logger
}

// NewService creates a post-call report sender. opsInbox may be empty, in
// which case the email half is skipped.
func NewService(email EmailSender, sms SMSSender, opsInbox string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, sms: sms, opsInbox: opsInbox, logger: logger}
}

// SendPostCallReport sends the SMS recap to the caller (and any secondary
// phone recorded in the claim) and the ops-inbox email brief. call.Synthesis
// must already be populated; a nil Synthesis falls back to a generic recap.
func (s *Service) SendPostCallReport(ctx context.Context, call *callmodel.Call) error {
	var errs []error

	smsBody := s.smsReportBody(call)
	if s.sms != nil {
		for _, to := range reportRecipients(call) {
			if err := s.sms.SendSMS(ctx, to, smsBody); err != nil {
				s.logger.Error("notify: failed to send post-call SMS report", "error", err, "call_id", call.CallID, "to", to)
				errs = append(errs, err)
			} else {
				s.logger.Info("notify: post-call SMS report sent", "call_id", call.CallID, "to", to)
			}
		}
	}

	if s.email != nil && s.opsInbox != "" {
		msg := EmailMessage{
			To:      s.opsInbox,
			Subject: fmt.Sprintf("Call report: %s", call.CallID),
			Body:    s.opsReportBody(call),
			HTML:    s.opsReportHTML(call),
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send post-call ops report", "error", err, "call_id", call.CallID)
			errs = append(errs, err)
		} else {
			s.logger.Info("notify: post-call ops report sent", "call_id", call.CallID, "to", s.opsInbox)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d post-call report delivery failure(s)", len(errs))
	}
	return nil
}

func (s *Service) smsReportBody(call *callmodel.Call) string {
	if call.Synthesis != nil && call.Synthesis.Short != "" {
		return call.Synthesis.Short
	}
	return "Thanks for calling. We've recorded what you shared and will follow up if anything further is needed."
}

func (s *Service) opsReportBody(call *callmodel.Call) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Call %s\nCaller: %s\n", call.CallID, call.Initiate.CallerPhoneNumber)
	if call.Next != nil {
		fmt.Fprintf(&sb, "Disposition: %s\n", call.Next.Action)
	}
	if call.Synthesis != nil {
		fmt.Fprintf(&sb, "Satisfaction: %s\n\n%s\n\n%s\n", call.Synthesis.Satisfaction, call.Synthesis.Short, call.Synthesis.Long)
		if call.Synthesis.ImprovementSuggestions != "" {
			fmt.Fprintf(&sb, "\nSuggested improvements: %s\n", call.Synthesis.ImprovementSuggestions)
		}
	}
	if len(call.Claim) > 0 {
		sb.WriteString("\nClaim fields:\n")
		for _, f := range call.Initiate.ClaimSchema {
			if v, ok := call.Claim[f.Name]; ok && v != "" {
				fmt.Fprintf(&sb, "  %s: %s\n", f.Name, v)
			}
		}
	}
	if len(call.Reminders) > 0 {
		fmt.Fprintf(&sb, "\n%d reminder(s) logged.\n", len(call.Reminders))
	}
	return sb.String()
}

func (s *Service) opsReportHTML(call *callmodel.Call) string {
	var rows strings.Builder
	fmt.Fprintf(&rows, `<tr><td style="padding:8px;border-bottom:1px solid #e5e7eb;"><strong>Caller</strong></td><td style="padding:8px;border-bottom:1px solid #e5e7eb;">%s</td></tr>`, call.Initiate.CallerPhoneNumber)
	if call.Next != nil {
		fmt.Fprintf(&rows, `<tr><td style="padding:8px;border-bottom:1px solid #e5e7eb;"><strong>Disposition</strong></td><td style="padding:8px;border-bottom:1px solid #e5e7eb;">%s</td></tr>`, call.Next.Action)
	}
	if call.Synthesis != nil {
		fmt.Fprintf(&rows, `<tr><td style="padding:8px;border-bottom:1px solid #e5e7eb;"><strong>Satisfaction</strong></td><td style="padding:8px;border-bottom:1px solid #e5e7eb;">%s</td></tr>`, call.Synthesis.Satisfaction)
	}
	summary := ""
	if call.Synthesis != nil {
		summary = fmt.Sprintf("<p>%s</p><p>%s</p>", call.Synthesis.Short, call.Synthesis.Long)
	}
	return fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>Call report: %s</h2>
<table style="border-collapse: collapse; margin: 16px 0;">%s</table>
%s
</div>`, call.CallID, rows.String(), summary)
}

// reportRecipients returns the caller's phone plus any secondary phone_number
// claim field, deduplicated, in the order they appear.
func reportRecipients(call *callmodel.Call) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(phone string) {
		if phone == "" || seen[phone] {
			return
		}
		seen[phone] = true
		out = append(out, phone)
	}
	add(call.Initiate.CallerPhoneNumber)
	for _, f := range call.Initiate.ClaimSchema {
		if f.Type != callmodel.ClaimFieldPhoneNumber {
			continue
		}
		add(call.Claim[f.Name])
	}
	return out
}

// IncidentNotifier raises an operator-visible incident by email, satisfying
// orchestrator.IncidentNotifier and dispatch's own FatalWorker path.
type IncidentNotifier struct {
	email  EmailSender
	to     string
	logger *logging.Logger
}

// NewIncidentNotifier creates an incident notifier. A nil email sender or
// empty recipient makes NotifyIncident a no-op, matching the Stub senders'
// convention of degrading gracefully rather than erroring.
func NewIncidentNotifier(email EmailSender, to string, logger *logging.Logger) *IncidentNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &IncidentNotifier{email: email, to: to, logger: logger}
}

// NotifyIncident emails the incident alert recipient.
func (n *IncidentNotifier) NotifyIncident(ctx context.Context, subject, detail string) error {
	if n.email == nil || n.to == "" {
		n.logger.Warn("notify: incident notifier not configured, dropping incident", "subject", subject)
		return nil
	}
	err := n.email.Send(ctx, EmailMessage{
		To:      n.to,
		Subject: fmt.Sprintf("[voicecore incident] %s", subject),
		Body:    detail,
	})
	if err != nil {
		n.logger.Error("notify: failed to send incident alert", "error", err, "subject", subject)
		return fmt.Errorf("notify: incident alert: %w", err)
	}
	return nil
}

// SimpleSMSSender provides a simple SMS sending implementation.
type SimpleSMSSender struct {
	sendFunc func(ctx context.Context, to, from, body string) error
	from     string
	logger   *logging.Logger
}

// NewSimpleSMSSender creates an SMS sender with a custom send function.
func NewSimpleSMSSender(from string, sendFunc func(ctx context.Context, to, from, body string) error, logger *logging.Logger) *SimpleSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SimpleSMSSender{
		sendFunc: sendFunc,
		from:     from,
		logger:   logger,
	}
}

// SendSMS sends an SMS message.
func (s *SimpleSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if s.sendFunc == nil {
		s.logger.Warn("notify: SMS sender not configured")
		return nil
	}
	return s.sendFunc(ctx, to, s.from, body)
}

// StubSMSSender is a no-op sender for testing.
type StubSMSSender struct {
	logger *logging.Logger
}

// NewStubSMSSender creates a stub SMS sender.
func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

// SendSMS logs but doesn't send.
func (s *StubSMSSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("stub SMS sender: would send", "to", to, "body_preview", truncate(body, 50))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Ensure interface compliance
var _ SMSSender = (*SimpleSMSSender)(nil)
var _ SMSSender = (*StubSMSSender)(nil)
