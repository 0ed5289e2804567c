package story

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType string

const (
	ErrorNoFile           ErrorType = "NO_FILE"
	ErrorFileTooLarge     ErrorType = "FILE_TOO_LARGE"
	ErrorInvalidMimeType  ErrorType = "INVALID_MIME_TYPE"
	ErrorPixelExceeded    ErrorType = "PIXEL_EXCEEDED"
	ErrorDecodeFailed     ErrorType = "DECODE_FAILED"
	ErrorConversionFailed ErrorType = "CONVERSION_FAILED"
)

// ConversionError is the one failure type Convert produces. Type is always
// set; the remaining fields carry the payload belonging to that type and
// stay zero otherwise. A ConversionError is constructed once at the failing
// stage and never rewrapped.
type ConversionError struct {
	Type ErrorType

	MaxBytes    int64
	ActualBytes int64

	Allowed []string
	Actual  string

	MaxDimension int
	Width        int
	Height       int

	Detail string
}

func (e *ConversionError) Error() string {
	switch e.Type {
	case ErrorNoFile:
		return "no file supplied"
	case ErrorFileTooLarge:
		return fmt.Sprintf("file size %d exceeds maximum %d bytes", e.ActualBytes, e.MaxBytes)
	case ErrorInvalidMimeType:
		return fmt.Sprintf("content type %q is not allowed (want %s)", e.Actual, strings.Join(e.Allowed, " or "))
	case ErrorPixelExceeded:
		return fmt.Sprintf("image dimensions %dx%d exceed maximum %d", e.Width, e.Height, e.MaxDimension)
	case ErrorDecodeFailed:
		return "decode image: " + e.Detail
	case ErrorConversionFailed:
		return "convert image: " + e.Detail
	default:
		return string(e.Type)
	}
}

// Message is the text shown to the person who uploaded the file. One fixed
// string per error type; limits are interpolated.
func (e *ConversionError) Message() string {
	switch e.Type {
	case ErrorNoFile:
		return "Please choose an image file."
	case ErrorFileTooLarge:
		return fmt.Sprintf("The file is too large. The maximum size is %d MB.", e.MaxBytes/(1024*1024))
	case ErrorInvalidMimeType:
		return "Unsupported file type. Please choose a JPEG or PNG image."
	case ErrorPixelExceeded:
		return fmt.Sprintf("The image is too large. Each side must be at most %d pixels.", e.MaxDimension)
	case ErrorDecodeFailed:
		return "The image could not be read. The file may be damaged."
	default:
		return "The image could not be converted. Please try another file."
	}
}

// UserMessage maps any error coming out of Convert to user-facing text.
func UserMessage(err error) string {
	var cerr *ConversionError
	if errors.As(err, &cerr) {
		return cerr.Message()
	}
	return "The image could not be converted. Please try another file."
}
