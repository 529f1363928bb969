package engine

import "errors"

var errNoModel = errors.New("no model configured")
