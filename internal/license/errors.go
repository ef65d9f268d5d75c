package license

import "errors"

var (
	ErrInvalidSignature  = errors.New("license: signature verification failed")
	ErrExpiredDelegation = errors.New("license: delegation timestamp outside accepted window")
	ErrTooManyLicenses   = errors.New("license: too many licenses")
	ErrNoLicenses        = errors.New("license: no licenses")
	ErrDuplicateLicense  = errors.New("license: duplicate license id")
	ErrBadKey            = errors.New("license: malformed public key")
)
