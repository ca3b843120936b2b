package changeset

import "errors"

var (
	// ErrCorrupt is returned when encoded changeset data cannot be decoded
	// or describes an inconsistent changeset.
	ErrCorrupt = errors.New("corrupt changeset")

	// ErrIncompatible is returned when two changesets cannot be merged
	// because they were not computed against the same ancestor and identity.
	ErrIncompatible = errors.New("incompatible changesets")

	// ErrBaseMismatch is returned when a changeset is applied to a snapshot
	// other than its base.
	ErrBaseMismatch = errors.New("snapshot is not the changeset base")
)
