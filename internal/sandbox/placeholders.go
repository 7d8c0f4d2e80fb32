package sandbox

// IntegrationPlaceholder is one provider credential variable the generated
// project needs but the worker cannot supply — it is written into the
// project's .env as "<VAR>=<YOUR_<VAR>>" and mirrored into a Credential
// Placeholder row (§4.11 P8). Grounded on the teacher's static
// pattern-table idiom (pkg/masking/pattern.go), adapted from "mask this"
// to "the user must supply this".
type IntegrationPlaceholder struct {
	Provider     string
	VariableName string
}

// authPlaceholders lists the Clerk env vars an auth integration needs that
// the worker cannot fill in on the project's behalf (§9 S3).
var authPlaceholders = []IntegrationPlaceholder{
	{Provider: "clerk", VariableName: "CLERK_SECRET_KEY"},
	{Provider: "clerk", VariableName: "CLERK_PUBLISHABLE_KEY"},
	{Provider: "clerk", VariableName: "CLERK_WEBHOOK_SECRET"},
}

// paymentPlaceholders lists the Stripe env vars a payment integration needs.
var paymentPlaceholders = []IntegrationPlaceholder{
	{Provider: "stripe", VariableName: "STRIPE_SECRET_KEY"},
	{Provider: "stripe", VariableName: "STRIPE_WEBHOOK_SECRET"},
}

// Placeholders returns every credential placeholder implied by the
// detected intents, shared by both .env generation and credential
// placeholder row creation so the two can never drift apart.
func Placeholders(needsAuth, needsPayment bool) []IntegrationPlaceholder {
	var out []IntegrationPlaceholder
	if needsAuth {
		out = append(out, authPlaceholders...)
	}
	if needsPayment {
		out = append(out, paymentPlaceholders...)
	}
	return out
}
