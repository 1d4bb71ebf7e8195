package workflow

// NewInvoiceLifecycle returns the builder for the invoice status machine:
//
//	Draft --SEND--> Pending --PAY--> Paid
//
// Re-sending a pending invoice and paying a paid one are accepted no-ops.
// Nothing leaves Paid.
func NewInvoiceLifecycle() StateMachineBuilder {
	builder := NewBuilder()

	builder.Configure(StateDraft).
		Permit(TriggerSend, StatePending)

	builder.Configure(StatePending).
		Permit(TriggerPay, StatePaid).
		Ignore(TriggerSend)

	builder.Configure(StatePaid).
		Ignore(TriggerPay)

	return builder
}
