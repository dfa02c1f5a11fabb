package lock

// Record is the persisted representation of one acquisition attempt. A lock
// name may transiently have several records; the earliest-started one owns
// the lock. Instance ids are minted fresh per attempt and never reused.
type Record struct {
	LockName       string `json:"lockName"`
	LockInstanceID string `json:"lockInstanceId"`
	// LockStartTime is the attempt creation time in Unix milliseconds.
	LockStartTime int64 `json:"lockStartTimeMs"`
	// LockExpiresAt is the lease deadline in Unix milliseconds. Backends with
	// native TTL drop the record at this time; others rely on SweepExpired.
	LockExpiresAt int64 `json:"lockExpiresAtMs"`
}

// Expired reports whether the record's lease deadline has passed at now,
// expressed in Unix milliseconds.
func (r Record) Expired(now int64) bool {
	return r.LockExpiresAt <= now
}
