package export

import "errors"

// Export errors.
var (
	ErrBrowserConnect  = errors.New("export: failed to connect to browser")
	ErrPageCreate      = errors.New("export: failed to create page")
	ErrPageLoad        = errors.New("export: page failed to load")
	ErrPDFGeneration   = errors.New("export: PDF generation failed")
	ErrEmptyContent    = errors.New("export: empty content")
	ErrContentTooLarge = errors.New("export: content too large")
	ErrDocxGeneration  = errors.New("export: docx generation failed")
)
