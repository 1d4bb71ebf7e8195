package workflow

// Trigger represents an action that can cause a state transition
type Trigger string

const (
	// TriggerSend marks an invoice as sent to the client (Draft -> Pending)
	TriggerSend Trigger = "SEND"
	// TriggerPay records settlement (Pending -> Paid)
	TriggerPay Trigger = "PAY"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
