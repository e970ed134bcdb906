package common

import "fmt"

// BankErrType ...
type BankErrType uint32

const (
	// AlreadyExists ...
	AlreadyExists BankErrType = iota
	// NotFound ...
	NotFound
	// InvalidAmount ...
	InvalidAmount
	// InsufficientFunds ...
	InsufficientFunds
	// DiscoveryExhausted ...
	DiscoveryExhausted
	// RequestTimedOut ...
	RequestTimedOut
	// TransientLookup ...
	TransientLookup
)

// BankErr is the error type shared by all banca components. None of these
// errors are fatal; they are recovered at the point of detection and turned
// into a reply or a log line.
type BankErr struct {
	component string
	errType   BankErrType
	key       string
}

// NewBankErr ...
func NewBankErr(component string, errType BankErrType, key string) BankErr {
	return BankErr{
		component: component,
		errType:   errType,
		key:       key,
	}
}

// Error ...
func (e BankErr) Error() string {
	m := ""
	switch e.errType {
	case AlreadyExists:
		m = "Already Exists"
	case NotFound:
		m = "Not Found"
	case InvalidAmount:
		m = "Invalid Amount"
	case InsufficientFunds:
		m = "Insufficient Funds"
	case DiscoveryExhausted:
		m = "Discovery Exhausted"
	case RequestTimedOut:
		m = "Request Timed Out"
	case TransientLookup:
		m = "Transient Lookup Failure"
	}

	return fmt.Sprintf("%s, %s, %s", e.component, e.key, m)
}

// IsBank checks that an error is of type BankErr and that its code matches the
// provided BankErrType code.
func IsBank(err error, t BankErrType) bool {
	bankErr, ok := err.(BankErr)
	return ok && bankErr.errType == t
}
