package takeoff

import "errors"

var (
	// ErrNoViewport means pointer input could not be resolved to base space
	// because the current page has no viewport. The input is dropped.
	ErrNoViewport = errors.New("no viewport for current page")

	// ErrInvalidGeometry means completion was attempted with too few points.
	// The gesture stays open.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrPersistenceRejected wraps a create/update/delete failure reported by
	// the persistence collaborator. Local state has been reverted.
	ErrPersistenceRejected = errors.New("persistence rejected change")

	ErrHistoryBusy   = errors.New("undo/redo already in progress")
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")

	ErrNoCondition           = errors.New("no condition selected")
	ErrWrongMode             = errors.New("operation not valid in current mode")
	ErrNotFound              = errors.New("not found")
	ErrDegenerateCalibration = errors.New("calibration points are coincident")
	ErrInvalidCutoutTarget   = errors.New("cutout target must be an area or volume measurement")
	ErrMissingDepth          = errors.New("volume needs a positive depth")
)
