package enums

import "fmt"

// TransactionType names the logical vendor action a ledger row guards.
type TransactionType string

const (
	TransactionStartPackageBatch TransactionType = "start_package_batch"
	TransactionFinishHarvests    TransactionType = "finish_harvests"
)

var validTransactionTypes = []TransactionType{
	TransactionStartPackageBatch,
	TransactionFinishHarvests,
}

// IsValid reports whether the value matches a known transaction type.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
