package tam

import "github.com/cockroachdb/errors"

// ErrImageFull is returned from Atlas.Obtain when no tile large enough can be made available,
// even after evicting every entry outside the active access range
var ErrImageFull = errors.New("atlas image is full")

// ErrMapFull is returned from Atlas.Obtain when the identifier map cannot accept another
// identifier, even after evicting every entry outside the active access range
var ErrMapFull = errors.New("atlas identifier map is full")

// ErrSizeChangeInRange is returned from Atlas.Obtain when an identifier that was already used
// in the active access range is requested again with a different size
var ErrSizeChangeInRange = errors.New("identifier changed size within an access range")

// ErrEntryInUse is returned when an operation would discard an entry that was used in the
// active access range
var ErrEntryInUse = errors.New("entry is in use by the active access range")

// ErrAccessRangeActive is returned when an operation requires the atlas to be outside an
// access range but BeginAccess has been called without a matching EndAccess
var ErrAccessRangeActive = errors.New("an access range is already active")

// ErrAccessRangeIdle is returned from EndAccess when no access range is active
var ErrAccessRangeIdle = errors.New("no access range is active")
