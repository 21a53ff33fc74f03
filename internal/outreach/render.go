package outreach

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/duepilot/duepilot/internal/analyzer"
)

// smsBudget is the single-segment SMS length; linkReserve leaves room for the
// payment link substituted at dispatch, which is longer than its placeholder.
const (
	smsBudget   = 160
	linkReserve = 40
)

var amounts = message.NewPrinter(language.AmericanEnglish)

// RenderInput carries everything the templates need. AmountDue is the balance
// before any incentive is applied.
type RenderInput struct {
	ClientName    string
	InvoiceNumber string
	AmountDue     float64
	DaysOverdue   int
	Type          analyzer.ActionType
	Incentive     *analyzer.IncentiveOffer
}

// Render produces channel-appropriate copy for one action. Email and payment
// link share the long form; SMS gets the truncated short form; calls get a
// talking-point script for the operator.
func Render(in RenderInput) Content {
	tone := ToneForDaysOverdue(in.DaysOverdue)
	switch in.Type {
	case analyzer.ActionSMS:
		return Content{Body: renderSMS(in, tone), Tone: tone}
	case analyzer.ActionCall:
		return Content{Subject: callSubject(in), Body: renderCallScript(in, tone), Tone: tone}
	default:
		return Content{Subject: emailSubject(in, tone), Body: renderEmail(in, tone), Tone: tone}
	}
}

func emailSubject(in RenderInput, tone Tone) string {
	switch tone {
	case ToneFriendly:
		return fmt.Sprintf("A quick note about invoice %s", in.InvoiceNumber)
	case ToneReminder:
		return fmt.Sprintf("Reminder: invoice %s is past due", in.InvoiceNumber)
	case ToneUrgent:
		return fmt.Sprintf("Action needed: invoice %s is %d days overdue", in.InvoiceNumber, in.DaysOverdue)
	default:
		return fmt.Sprintf("Final notice for invoice %s", in.InvoiceNumber)
	}
}

func renderEmail(in RenderInput, tone Tone) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", in.ClientName)

	amount := amounts.Sprintf("$%.2f", in.AmountDue)
	switch tone {
	case ToneFriendly:
		fmt.Fprintf(&b, "Just a friendly heads-up that invoice %s for %s is coming up. ", in.InvoiceNumber, amount)
	case ToneReminder:
		fmt.Fprintf(&b, "Invoice %s for %s is now %d days past due. We understand things slip; settling it this week keeps everything on track. ",
			in.InvoiceNumber, amount, in.DaysOverdue)
	case ToneUrgent:
		fmt.Fprintf(&b, "Invoice %s for %s remains unpaid after %d days. Please treat this as a priority. ",
			in.InvoiceNumber, amount, in.DaysOverdue)
	default:
		fmt.Fprintf(&b, "Despite previous reminders, invoice %s for %s is still outstanding after %d days. This is our final automated notice before the account is escalated. ",
			in.InvoiceNumber, amount, in.DaysOverdue)
	}

	b.WriteString(incentiveCopy(in))
	fmt.Fprintf(&b, "\n\nYou can pay securely here: %s\n\nThank you,\nAccounts Receivable", PaymentLinkPlaceholder)
	return b.String()
}

func renderSMS(in RenderInput, tone Tone) string {
	amount := amounts.Sprintf("$%.2f", in.AmountDue)
	var body string
	switch tone {
	case ToneFriendly, ToneReminder:
		body = fmt.Sprintf("Hi %s, invoice %s (%s) is past due. Pay here: %s", in.ClientName, in.InvoiceNumber, amount, PaymentLinkPlaceholder)
	default:
		body = fmt.Sprintf("%s: invoice %s (%s) is %d days overdue and needs immediate attention. Pay: %s",
			in.ClientName, in.InvoiceNumber, amount, in.DaysOverdue, PaymentLinkPlaceholder)
	}
	return truncateSMS(body)
}

// truncateSMS trims the pre-link text so that the final message fits one
// segment after the placeholder becomes a real link.
func truncateSMS(body string) string {
	budget := smsBudget - linkReserve + len(PaymentLinkPlaceholder)
	if len(body) <= budget {
		return body
	}
	idx := strings.Index(body, PaymentLinkPlaceholder)
	if idx < 0 {
		return body[:budget]
	}
	tail := body[idx:]
	keep := budget - len(tail) - 1
	if keep < 0 {
		keep = 0
	}
	return strings.TrimSpace(body[:keep]) + " " + tail
}

func callSubject(in RenderInput) string {
	return fmt.Sprintf("Collection call: %s, invoice %s", in.ClientName, in.InvoiceNumber)
}

func renderCallScript(in RenderInput, tone Tone) string {
	var b strings.Builder
	amount := amounts.Sprintf("$%.2f", in.AmountDue)
	fmt.Fprintf(&b, "Client: %s\nInvoice: %s\nBalance: %s\nOverdue: %d days\n\n",
		in.ClientName, in.InvoiceNumber, amount, in.DaysOverdue)
	b.WriteString("Talking points:\n")
	b.WriteString("- Confirm the invoice was received and there is no dispute.\n")
	b.WriteString("- Ask for a concrete payment date.\n")
	if in.Incentive != nil {
		b.WriteString("- " + incentiveCopy(in) + "\n")
	}
	if tone == ToneFinal {
		b.WriteString("- Explain that the account will be escalated if no commitment is made.\n")
	}
	return b.String()
}

func incentiveCopy(in RenderInput) string {
	if in.Incentive == nil {
		return ""
	}
	switch in.Incentive.Kind {
	case analyzer.IncentiveDiscount:
		discounted := in.AmountDue - in.Incentive.DiscountAmount(in.AmountDue)
		return fmt.Sprintf("Settle by %s and we will apply a %.0f%% discount, bringing the balance to %s.",
			in.Incentive.ExpiresAt.Format("January 2"), in.Incentive.DiscountPercent,
			amounts.Sprintf("$%.2f", discounted))
	case analyzer.IncentiveInstallment:
		per := in.AmountDue / float64(in.Incentive.Installments)
		return fmt.Sprintf("We can split the balance into %d monthly payments of %s.",
			in.Incentive.Installments, amounts.Sprintf("$%.2f", per))
	default:
		return ""
	}
}
