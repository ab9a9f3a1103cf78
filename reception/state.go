package reception

import "encoding/json"

// =============================================================================
// TRANSACTION STATE - Tagged variant instead of optional flags
// =============================================================================

// State is the lifecycle of a mirror transaction. The set is closed:
// Active, Voided and Corrected are the only implementations, so a
// transaction cannot be both voided and corrected.
//
// Active and Voided are stored on the record itself. Corrected is never
// written onto the original (history stays untouched); it is resolved
// from the audit source index by Service.TransactionState.
type State interface {
	isState()
}

type Active struct{}

type Voided struct {
	Reason string
	By     string
	At     string
}

type Corrected struct {
	ReversalID    string
	ReplacementID string
	AuditID       string
}

func (Active) isState()    {}
func (Voided) isState()    {}
func (Corrected) isState() {}

// IsVoided reports whether the transaction carries a void flag.
func (t Transaction) IsVoided() bool {
	_, ok := t.State.(Voided)
	return ok
}

// transactionAlias drops the methods so the wire struct does not recurse.
type transactionAlias Transaction

type transactionWire struct {
	transactionAlias
	Voided     bool   `json:"voided,omitempty"`
	VoidedAt   string `json:"voidedAt,omitempty"`
	VoidedBy   string `json:"voidedBy,omitempty"`
	VoidReason string `json:"voidReason,omitempty"`
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	w := transactionWire{transactionAlias: transactionAlias(t)}
	if v, ok := t.State.(Voided); ok {
		w.Voided = true
		w.VoidedAt = v.At
		w.VoidedBy = v.By
		w.VoidReason = v.Reason
	}
	return json.Marshal(w)
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w transactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id := t.ID
	*t = Transaction(w.transactionAlias)
	t.ID = id
	if w.Voided {
		t.State = Voided{Reason: w.VoidReason, By: w.VoidedBy, At: w.VoidedAt}
	} else {
		t.State = Active{}
	}
	return nil
}

// voidWrites are the in-place flag fields set by a void. They are written
// as sibling paths so the rest of the record is untouched.
func voidWrites(base string, v Voided) map[string]any {
	return map[string]any{
		base + "/voided":     true,
		base + "/voidedAt":   v.At,
		base + "/voidedBy":   v.By,
		base + "/voidReason": v.Reason,
	}
}
