package cluster

import "errors"

// ErrWorkerNotFound is returned by lookups with no matching worker row.
var ErrWorkerNotFound = errors.New("cluster: worker not found")
