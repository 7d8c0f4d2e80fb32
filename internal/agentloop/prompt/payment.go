package prompt

import (
	"embed"
	"sync"
)

//go:embed examples/payment
var paymentExamplesFS embed.FS

var (
	paymentSectionOnce sync.Once
	paymentSectionBody string
)

var paymentExampleFiles = []string{
	"examples/payment/create_intent.js",
	"examples/payment/webhook_handler.js",
	"examples/payment/create_customer.js",
}

// Payment returns the payment section (§4.8 step 4).
func Payment() Section {
	paymentSectionOnce.Do(func() {
		paymentSectionBody = buildDocAndExamplesBody(paymentExamplesFS, "examples/payment/docs.md", paymentExampleFiles)
	})
	return Section{Title: "Payments", Body: paymentSectionBody}
}
