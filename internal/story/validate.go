package story

// Validate checks the raw upload before any decode work happens. The size
// check runs before the type check; the declared content type is matched
// exactly, nothing is sniffed from the bytes.
func Validate(in *Input) *ConversionError {
	if in == nil {
		return &ConversionError{Type: ErrorNoFile}
	}
	if size := int64(len(in.Data)); size > MaxUploadBytes {
		return &ConversionError{Type: ErrorFileTooLarge, MaxBytes: MaxUploadBytes, ActualBytes: size}
	}
	switch in.ContentType {
	case ContentTypeJPEG, ContentTypePNG:
		return nil
	default:
		return &ConversionError{
			Type:    ErrorInvalidMimeType,
			Allowed: []string{ContentTypeJPEG, ContentTypePNG},
			Actual:  in.ContentType,
		}
	}
}

// CheckDimensions guards the compositor against oversized decoded images.
func CheckDimensions(width, height int) *ConversionError {
	if width > MaxDimension || height > MaxDimension {
		return &ConversionError{
			Type:         ErrorPixelExceeded,
			MaxDimension: MaxDimension,
			Width:        width,
			Height:       height,
		}
	}
	return nil
}
