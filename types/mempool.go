package types

// MempoolContext says why a transaction is being gate-checked.
type MempoolContext uint8

const (
	MempoolFirstSeen MempoolContext = 1
	// MempoolRevalidation re-checks a pooled transaction after a
	// commit. It already passed the stateless checks once.
	MempoolRevalidation MempoolContext = 2
)

func (c MempoolContext) String() string {
	switch c {
	case MempoolFirstSeen:
		return "first_seen"
	case MempoolRevalidation:
		return "revalidation"
	default:
		return "unknown"
	}
}

// GateVerdict is the application's mempool admission decision.
type GateVerdict struct {
	// Zero admits the transaction; anything else is a relay error code.
	Code uint32 `cramberry:"1"`
	// Info explains a rejection. Not part of consensus.
	Info string `cramberry:"2"`
	// Priority orders admitted transactions. Higher goes first.
	Priority int64 `cramberry:"3"`
	// Sender is the hex address whose nonce sequence the transaction
	// belongs to.
	Sender string `cramberry:"4"`
}

// Reject returns a verdict refusing admission with code.
func Reject(code uint32, info string) GateVerdict {
	return GateVerdict{Code: code, Info: info}
}

// Accepted reports whether the transaction was admitted.
func (v GateVerdict) Accepted() bool { return v.Code == 0 }
