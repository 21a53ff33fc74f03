package analyzer

import (
	"fmt"
	"time"

	"github.com/duepilot/duepilot/internal/ar"
)

// Contact-policy bands keyed on days overdue. Each band escalates the action
// mix; expected response rates come from observed recovery data and feed the
// plan's projected-recovery totals.
const (
	approachingDueDays = 3
	bandEarlyMax       = 7
	bandNudgeMax       = 21
	bandIncentiveMax   = 45
)

// recommend produces the staged action mix for one invoice, sorted by
// priority descending. Scheduling respects the minimum-contact-interval floor
// from the last completed follow-up and the client's learned best contact
// day and hour.
func (a *Analyzer) recommend(inv ar.Invoice, client ar.Client, lastContact time.Time, now time.Time) []RecommendedAction {
	daysOverdue := inv.DaysOverdue(now)
	daysToDue := inv.DaysToDue(now)

	var actions []RecommendedAction
	switch {
	case daysOverdue == 0 && daysToDue >= 0 && daysToDue <= approachingDueDays:
		actions = []RecommendedAction{
			{Type: ActionEmail, Priority: 3, ExpectedResponseRate: 0.25,
				Reason: fmt.Sprintf("invoice %s due in %d days, friendly heads-up", inv.Number, daysToDue)},
		}
	case daysOverdue == 0:
		// Not in a contact band yet.
		return nil
	case daysOverdue <= bandEarlyMax:
		actions = []RecommendedAction{
			{Type: ActionEmail, Priority: 5, ExpectedResponseRate: 0.30,
				Reason: fmt.Sprintf("invoice %s is %d days past due, friendly reminder", inv.Number, daysOverdue)},
		}
	case daysOverdue <= bandNudgeMax:
		actions = []RecommendedAction{
			{Type: ActionEmail, Priority: 6, ExpectedResponseRate: 0.35,
				Reason: fmt.Sprintf("invoice %s is %d days past due, reminder with payment link", inv.Number, daysOverdue)},
			{Type: ActionPaymentLink, Priority: 7, ExpectedResponseRate: 0.40,
				Reason: fmt.Sprintf("one-click payment link for invoice %s", inv.Number)},
		}
	case daysOverdue <= bandIncentiveMax:
		discount := earlySettlementDiscount(daysOverdue, now)
		actions = []RecommendedAction{
			{Type: ActionDiscount, Priority: 8, ExpectedResponseRate: 0.30, Incentive: &discount,
				Reason: fmt.Sprintf("offer %.0f%% settlement discount on invoice %s", discount.DiscountPercent, inv.Number)},
			{Type: ActionSMS, Priority: 7, ExpectedResponseRate: 0.28,
				Reason: fmt.Sprintf("text reminder for invoice %s, %d days past due", inv.Number, daysOverdue)},
		}
	default:
		discount := escalationDiscount(now)
		plan := installmentPlan(inv.AmountDue(), now)
		actions = []RecommendedAction{
			{Type: ActionCall, Priority: 9, ExpectedResponseRate: 0.20,
				Reason: fmt.Sprintf("escalation call: invoice %s is %d days past due", inv.Number, daysOverdue)},
			{Type: ActionPaymentPlan, Priority: 8, ExpectedResponseRate: 0.22, Incentive: &plan,
				Reason: fmt.Sprintf("offer a %d-month payment plan on invoice %s", plan.Installments, inv.Number)},
			{Type: ActionDiscount, Priority: 8, ExpectedResponseRate: 0.25, Incentive: &discount,
				Reason: fmt.Sprintf("offer %.0f%% settlement discount on invoice %s", discount.DiscountPercent, inv.Number)},
		}
	}

	for i := range actions {
		actions[i].ScheduledFor = a.scheduleContact(client, lastContact, now)
	}

	sortByPriorityDesc(actions)
	return actions
}

// earlySettlementDiscount shrinks as the invoice ages, so the offer is worth
// more the sooner the client engages.
func earlySettlementDiscount(daysOverdue int, now time.Time) IncentiveOffer {
	pct := 8 - float64(daysOverdue)/10
	if pct < 3 {
		pct = 3
	}
	return IncentiveOffer{
		Kind:            IncentiveDiscount,
		DiscountPercent: pct,
		ExpiresAt:       now.AddDate(0, 0, 7),
	}
}

func escalationDiscount(now time.Time) IncentiveOffer {
	return IncentiveOffer{
		Kind:            IncentiveDiscount,
		DiscountPercent: 10,
		ExpiresAt:       now.AddDate(0, 0, 7),
	}
}

func installmentPlan(amountDue float64, now time.Time) IncentiveOffer {
	months := 3
	if amountDue >= 5000 {
		months = 6
	}
	return IncentiveOffer{
		Kind:         IncentiveInstallment,
		Installments: months,
		ExpiresAt:    now.AddDate(0, 0, 14),
	}
}

// scheduleContact picks the earliest contact time that honours the
// minimum-days-between-contacts floor, then advances to the client's learned
// best weekday and hour when known.
func (a *Analyzer) scheduleContact(client ar.Client, lastContact time.Time, now time.Time) time.Time {
	candidate := now
	floor := now
	if !lastContact.IsZero() {
		floor = lastContact.AddDate(0, 0, a.cfg.MinDaysBetweenContacts)
		if floor.After(candidate) {
			candidate = floor
		}
	}

	if client.BestContactDay != nil {
		for candidate.Weekday() != *client.BestContactDay {
			candidate = candidate.AddDate(0, 0, 1)
		}
	}
	if client.BestContactHour != nil {
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
			*client.BestContactHour, 0, 0, 0, candidate.Location())
	}
	// Setting the hour may step back across the interval floor; push to the
	// next acceptable matching day if so.
	for candidate.Before(floor) {
		candidate = candidate.AddDate(0, 0, 1)
		if client.BestContactDay != nil {
			for candidate.Weekday() != *client.BestContactDay {
				candidate = candidate.AddDate(0, 0, 1)
			}
		}
	}
	return candidate
}

func sortByPriorityDesc(actions []RecommendedAction) {
	for i := 1; i < len(actions); i++ {
		for j := i; j > 0 && actions[j].Priority > actions[j-1].Priority; j-- {
			actions[j], actions[j-1] = actions[j-1], actions[j]
		}
	}
}
