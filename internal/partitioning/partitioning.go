// Package partitioning derives deterministic broker partition keys from
// (tenant, exception) pairs so that every event for the same business entity
// lands in the same partition and is observed in publish order.
package partitioning

import (
	"crypto/md5" //nolint:gosec // used for deterministic bucketing, not security
	"encoding/hex"
	"errors"
	"strconv"
)

// ErrEmptyTenant is returned when tenant is empty.
var ErrEmptyTenant = errors.New("partitioning: tenant_id must not be empty")

// ErrInvalidPartitionCount is returned when numPartitions <= 0.
var ErrInvalidPartitionCount = errors.New("partitioning: num_partitions must be > 0")

// Key derives "{tenant}:{exception}" when exception is non-empty, else
// "{tenant}" (spec section 4.2).
func Key(tenantID, exceptionID string) (string, error) {
	if tenantID == "" {
		return "", ErrEmptyTenant
	}
	if exceptionID == "" {
		return tenantID, nil
	}
	return tenantID + ":" + exceptionID, nil
}

// KeyHash returns the hex-encoded MD5 digest of the partition key.
func KeyHash(tenantID, exceptionID string) (string, error) {
	key, err := Key(tenantID, exceptionID)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(key)) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// Number maps (tenant, exception) to a partition in [0, numPartitions) by
// taking the first 8 hex characters of the key's MD5 digest modulo
// numPartitions.
func Number(tenantID, exceptionID string, numPartitions int) (int, error) {
	if numPartitions <= 0 {
		return 0, ErrInvalidPartitionCount
	}
	hash, err := KeyHash(tenantID, exceptionID)
	if err != nil {
		return 0, err
	}
	prefix := hash[:8]
	v, err := strconv.ParseUint(prefix, 16, 64)
	if err != nil {
		return 0, err
	}
	return int(v % uint64(numPartitions)), nil
}
