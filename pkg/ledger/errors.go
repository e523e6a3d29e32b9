package ledger

import "errors"

var (
	ErrRecordNotFound  = errors.New("webhook record not found")
	ErrDuplicateRecord = errors.New("webhook record already exists")
	ErrStoreFailure    = errors.New("webhook ledger store failure")
)
