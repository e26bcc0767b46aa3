package staging

import "errors"

var ErrReleased = errors.New("staged artifact already released")
