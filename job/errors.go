package job

import "errors"

// ErrJobNotFound is returned by lookups with no matching job row.
var ErrJobNotFound = errors.New("job: not found")

// ErrJobAlreadyExists is returned by EnqueueJob when a job with the
// same ID has already been persisted.
var ErrJobAlreadyExists = errors.New("job: already exists")
