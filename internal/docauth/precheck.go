package docauth

import (
	"bytes"
	"fmt"
	"slices"

	dErrors "idproof/pkg/domain-errors"
)

const (
	// MinImageBytes rejects thumbnails and empty uploads.
	MinImageBytes = 1024
	// MaxImageBytes caps a single image.
	MaxImageBytes = 10 << 20
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
)

// ImageRules is the vendor-independent part of PreCheck. Adapters embed it
// and restrict SupportedIDTypes to what the vendor accepts.
type ImageRules struct {
	SupportedIDTypes []IDType
	MinBytes         int
	MaxBytes         int
}

// DefaultImageRules accepts both id types with the package size bounds.
func DefaultImageRules() ImageRules {
	return ImageRules{
		SupportedIDTypes: []IDType{IDTypeStateID, IDTypePassport},
		MinBytes:         MinImageBytes,
		MaxBytes:         MaxImageBytes,
	}
}

// Check validates the image set against meta. Every failure is a
// CodeValidation error.
func (r ImageRules) Check(images Images, meta Metadata) error {
	if !meta.IDType.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "id_type is required")
	}
	if !slices.Contains(r.SupportedIDTypes, meta.IDType) {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("id type %s is not supported by this vendor", meta.IDType))
	}

	switch meta.IDType {
	case IDTypePassport:
		if err := r.checkImage("passport", images.Passport); err != nil {
			return err
		}
		if len(images.Front) > 0 || len(images.Back) > 0 {
			return dErrors.New(dErrors.CodeValidation, "passport captures must not include front or back images")
		}
	case IDTypeStateID:
		if err := r.checkImage("front", images.Front); err != nil {
			return err
		}
		if err := r.checkImage("back", images.Back); err != nil {
			return err
		}
		if len(images.Passport) > 0 {
			return dErrors.New(dErrors.CodeValidation, "state id captures must not include a passport image")
		}
	}

	if meta.SelfieRequired {
		if err := r.checkImage("selfie", images.Selfie); err != nil {
			return err
		}
	}
	return nil
}

func (r ImageRules) checkImage(name string, data []byte) error {
	if len(data) == 0 {
		return dErrors.New(dErrors.CodeValidation, name+" image is required")
	}
	if r.MinBytes > 0 && len(data) < r.MinBytes {
		return dErrors.New(dErrors.CodeValidation, name+" image is too small")
	}
	if r.MaxBytes > 0 && len(data) > r.MaxBytes {
		return dErrors.New(dErrors.CodeValidation, name+" image is too large")
	}
	if !bytes.HasPrefix(data, jpegMagic) && !bytes.HasPrefix(data, pngMagic) {
		return dErrors.New(dErrors.CodeValidation, name+" image must be a JPEG or PNG")
	}
	return nil
}
