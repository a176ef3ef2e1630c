package datacache

import "errors"

var (
	// ErrCacheExists is returned by CreateCache for a name already registered
	ErrCacheExists = errors.New("datacache: cache already exists")

	// ErrInvalidConfig wraps every configuration validation failure
	ErrInvalidConfig = errors.New("datacache: invalid configuration")

	// ErrCacheNotFound is returned for an unregistered cache name
	ErrCacheNotFound = errors.New("datacache: cache not found")

	// ErrDraining is returned by Load once shutdown has started
	ErrDraining = errors.New("datacache: cache is draining")

	// ErrAlreadyLoaded is returned by Load when the entity is admitted or
	// being admitted
	ErrAlreadyLoaded = errors.New("datacache: entity already loaded")

	// ErrNotLoaded is returned by operations on an entity that is not admitted
	ErrNotLoaded = errors.New("datacache: entity not loaded")

	// ErrSessionLocked is returned when another live instance owns the session
	ErrSessionLocked = errors.New("datacache: session locked by another instance")

	// ErrSessionActive is returned by SaveDataAsync when the stored record is
	// in an active session and force was not set
	ErrSessionActive = errors.New("datacache: stored session is active")

	// ErrVersionConflict is returned when the stored version moved underneath
	// the entity
	ErrVersionConflict = errors.New("datacache: version conflict")

	// ErrKicked is returned by writes for an entity that was forcibly evicted
	ErrKicked = errors.New("datacache: entity was kicked")
)
