package mailer

import (
	"fmt"
	"strings"
	"time"
)

func PaymentConfirmation(to, patientName, amount, currency string, startsAt time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", patientName)
	fmt.Fprintf(&b, "We received your payment of %s %s.\n", amount, strings.ToUpper(currency))
	fmt.Fprintf(&b, "Your appointment on %s is confirmed.\n\n", startsAt.UTC().Format("Mon, 02 Jan 2006 15:04 MST"))
	b.WriteString("Thank you.\n")
	return Message{To: to, Subject: "Payment received - appointment confirmed", Body: b.String()}
}

func PayoutSent(to, doctorName, amount, currency, appointmentID string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", doctorName)
	fmt.Fprintf(&b, "A payout of %s %s for appointment %s is on its way to your account.\n", amount, strings.ToUpper(currency), appointmentID)
	return Message{To: to, Subject: "Payout sent", Body: b.String()}
}
