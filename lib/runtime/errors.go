package runtime

import "errors"

// ErrProcessStart is returned when the entrypoint file is missing, the
// interpreter cannot be found, or the process fails to start at all. Errors
// the external program raises after starting are opaque to this layer and
// surface only through its exit code.
var ErrProcessStart = errors.New("process start failed")
