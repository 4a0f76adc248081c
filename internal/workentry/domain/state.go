package domain

import "github.com/bwmarrin/snowflake"

// BillingState is either Unbilled or Billed(invoiceID).
type BillingState struct {
	invoiceID snowflake.ID
}

func Unbilled() BillingState { return BillingState{} }

func Billed(invoiceID snowflake.ID) BillingState {
	return BillingState{invoiceID: invoiceID}
}

func (s BillingState) IsBilled() bool { return s.invoiceID != 0 }

// InvoiceID returns the billing invoice and true when billed.
func (s BillingState) InvoiceID() (snowflake.ID, bool) {
	return s.invoiceID, s.invoiceID != 0
}

func (s BillingState) String() string {
	if !s.IsBilled() {
		return "unbilled"
	}
	return "billed:" + s.invoiceID.String()
}

func stateOf(invoiceID *snowflake.ID) BillingState {
	if invoiceID == nil || *invoiceID == 0 {
		return Unbilled()
	}
	return Billed(*invoiceID)
}
