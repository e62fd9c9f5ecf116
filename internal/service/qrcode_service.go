package service

import (
	"github.com/skip2/go-qrcode"

	appErrors "github.com/noah-isme/classroom-checkin-api/pkg/errors"
)

const (
	defaultQRCodeSize = 128
	maxQRCodeSize     = 1024
)

// QRCodeService renders the classroom check-in QR code. The payload is the raw
// classroom id.
type QRCodeService struct {
	size int
}

// NewQRCodeService constructs a QR code renderer producing size x size images.
func NewQRCodeService(size int) *QRCodeService {
	if size <= 0 {
		size = defaultQRCodeSize
	}
	return &QRCodeService{size: size}
}

// Render encodes classroomID as a PNG. A non-positive size uses the default.
func (s *QRCodeService) Render(classroomID string, size int) ([]byte, error) {
	if classroomID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "classroom id is required")
	}
	if size <= 0 {
		size = s.size
	}
	if size > maxQRCodeSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, "qr code size too large")
	}
	png, err := qrcode.Encode(classroomID, qrcode.Medium, size)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render qr code")
	}
	return png, nil
}
