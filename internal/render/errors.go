package render

import "errors"

// ErrConversion indicates markdown to HTML conversion failed.
var ErrConversion = errors.New("render: markdown conversion failed")
