package outreach

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duepilot/duepilot/internal/analyzer"
)

func TestToneEscalatesWithAge(t *testing.T) {
	require.Equal(t, ToneFriendly, ToneForDaysOverdue(0))
	require.Equal(t, ToneFriendly, ToneForDaysOverdue(7))
	require.Equal(t, ToneReminder, ToneForDaysOverdue(8))
	require.Equal(t, ToneReminder, ToneForDaysOverdue(21))
	require.Equal(t, ToneUrgent, ToneForDaysOverdue(22))
	require.Equal(t, ToneUrgent, ToneForDaysOverdue(45))
	require.Equal(t, ToneFinal, ToneForDaysOverdue(46))
}

func TestEmailCarriesPlaceholderAndTone(t *testing.T) {
	content := Render(RenderInput{
		ClientName:    "Acme Ltd",
		InvoiceNumber: "INV-42",
		AmountDue:     1250.50,
		DaysOverdue:   15,
		Type:          analyzer.ActionEmail,
	})
	require.Equal(t, ToneReminder, content.Tone)
	require.Contains(t, content.Subject, "INV-42")
	require.Contains(t, content.Body, "Acme Ltd")
	require.Contains(t, content.Body, "$1,250.50")
	require.Contains(t, content.Body, PaymentLinkPlaceholder)
}

func TestFinalNoticeEmail(t *testing.T) {
	content := Render(RenderInput{
		ClientName:    "Acme Ltd",
		InvoiceNumber: "INV-42",
		AmountDue:     500,
		DaysOverdue:   60,
		Type:          analyzer.ActionEmail,
	})
	require.Equal(t, ToneFinal, content.Tone)
	require.Contains(t, content.Subject, "Final notice")
	require.Contains(t, content.Body, "final automated notice")
}

func TestSMSFitsOneSegmentAfterLinkSubstitution(t *testing.T) {
	content := Render(RenderInput{
		ClientName:    "A Client With A Really Quite Remarkably Long Trading Name Incorporated",
		InvoiceNumber: "INV-2026-000123",
		AmountDue:     18345.67,
		DaysOverdue:   30,
		Type:          analyzer.ActionSMS,
	})
	require.Contains(t, content.Body, PaymentLinkPlaceholder)

	link := "https://pay.example.com/s/aBcDeF123456"
	final := strings.ReplaceAll(content.Body, PaymentLinkPlaceholder, link)
	require.LessOrEqual(t, len(final), smsBudget)
	require.True(t, strings.HasSuffix(final, link), "link survives truncation")
}

func TestDiscountIncentiveCopy(t *testing.T) {
	expires := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	content := Render(RenderInput{
		ClientName:    "Acme Ltd",
		InvoiceNumber: "INV-42",
		AmountDue:     1000,
		DaysOverdue:   50,
		Type:          analyzer.ActionDiscount,
		Incentive: &analyzer.IncentiveOffer{
			Kind:            analyzer.IncentiveDiscount,
			DiscountPercent: 10,
			ExpiresAt:       expires,
		},
	})
	require.Contains(t, content.Body, "10% discount")
	require.Contains(t, content.Body, "September 1")
	require.Contains(t, content.Body, "$900.00")
}

func TestInstallmentIncentiveCopy(t *testing.T) {
	content := Render(RenderInput{
		ClientName:    "Acme Ltd",
		InvoiceNumber: "INV-42",
		AmountDue:     1200,
		DaysOverdue:   50,
		Type:          analyzer.ActionPaymentPlan,
		Incentive: &analyzer.IncentiveOffer{
			Kind:         analyzer.IncentiveInstallment,
			Installments: 3,
		},
	})
	require.Contains(t, content.Body, "3 monthly payments of $400.00")
}

func TestCallScriptListsTalkingPoints(t *testing.T) {
	content := Render(RenderInput{
		ClientName:    "Acme Ltd",
		InvoiceNumber: "INV-42",
		AmountDue:     2500,
		DaysOverdue:   70,
		Type:          analyzer.ActionCall,
	})
	require.Equal(t, ToneFinal, content.Tone)
	require.Contains(t, content.Body, "Talking points:")
	require.Contains(t, content.Body, "escalated")
	require.NotContains(t, content.Body, PaymentLinkPlaceholder)
}
