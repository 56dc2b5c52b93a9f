// Package domain holds the phone identity record.
package domain

import "time"

// Status is the registration state of a phone identity. It only advances
// forward: unregistered → pending → registered.
type Status string

const (
	StatusUnregistered Status = "unregistered"
	StatusPending      Status = "pending"
	StatusRegistered   Status = "registered"
)

// User is a phone identity: the normalized E.164 phone, its deterministically
// derived account address, and the registration status. The address is
// recomputed from the phone, never user-supplied.
type User struct {
	Phone     string
	Address   string
	PublicKey string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}
