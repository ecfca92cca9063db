package entitlement

import (
	"fmt"
	"time"
)

// Ledger is a device's claim history in submission order.
type Ledger []Claim

// AppendClaim assigns the next sequence number and appends c to d's ledger.
func AppendClaim(d *Device, c Claim) Claim {
	d.ClaimSeq++
	c.Seq = d.ClaimSeq
	d.Claims = append(d.Claims, c)
	return c
}

// SetAdmission records an operator decision on the claim with the given seq.
// Only pending claims can change; repeating the current decision is a no-op
// and reports changed=false.
func SetAdmission(d *Device, seq int, status AdmissionStatus, now time.Time) (c Claim, changed bool, err error) {
	if !status.Valid() || status == AdmissionPending {
		return Claim{}, false, fmt.Errorf("%w: admission must be approved or rejected, got %q", ErrInvalidArgument, status)
	}

	i := d.Claims.index(seq)
	if i < 0 {
		return Claim{}, false, fmt.Errorf("%w: seq %d", ErrClaimNotFound, seq)
	}

	cur := &d.Claims[i]
	switch cur.Admission {
	case status:
		return *cur, false, nil
	case AdmissionPending:
		decided := now
		cur.Admission = status
		cur.DecidedAt = &decided
		return *cur, true, nil
	default:
		return *cur, false, fmt.Errorf("%w: claim %d is %s", ErrClaimDecided, seq, cur.Admission)
	}
}

// ClearClaims drops the claim history. The sequence counter is kept.
func ClearClaims(d *Device) int {
	n := len(d.Claims)
	d.Claims = Ledger{}
	return n
}

// FindTX returns the first payment claim carrying tx. Promo claims are skipped.
func (l Ledger) FindTX(tx string) (Claim, bool) {
	for _, c := range l {
		if c.Kind != ClaimKindPromo && c.TX == tx {
			return c, true
		}
	}
	return Claim{}, false
}

// Filter returns the claims with the given admission status.
// An empty status matches everything.
func (l Ledger) Filter(status AdmissionStatus) Ledger {
	out := make(Ledger, 0, len(l))
	for _, c := range l {
		if status == "" || c.Admission == status {
			out = append(out, c)
		}
	}
	return out
}

func (l Ledger) index(seq int) int {
	for i := range l {
		if l[i].Seq == seq {
			return i
		}
	}
	return -1
}

func (l Ledger) clone() Ledger {
	if l == nil {
		return nil
	}
	out := make(Ledger, len(l))
	for i, c := range l {
		if c.Price != nil {
			p := *c.Price
			c.Price = &p
		}
		if c.DecidedAt != nil {
			t := *c.DecidedAt
			c.DecidedAt = &t
		}
		out[i] = c
	}
	return out
}
