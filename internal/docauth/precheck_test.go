package docauth

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "idproof/pkg/domain-errors"
)

func jpeg(n int) []byte {
	b := make([]byte, n)
	copy(b, jpegMagic)
	return b
}

func png(n int) []byte {
	b := make([]byte, n)
	copy(b, pngMagic)
	return b
}

func TestImageRules_Check(t *testing.T) {
	rules := DefaultImageRules()
	stateID := Metadata{IDType: IDTypeStateID}
	passport := Metadata{IDType: IDTypePassport}
	withSelfie := Metadata{IDType: IDTypeStateID, SelfieRequired: true}

	tests := []struct {
		name    string
		images  Images
		meta    Metadata
		wantErr string
	}{
		{"valid state id", Images{Front: jpeg(2048), Back: png(2048)}, stateID, ""},
		{"valid passport", Images{Passport: jpeg(2048)}, passport, ""},
		{"valid with selfie", Images{Front: jpeg(2048), Back: jpeg(2048), Selfie: jpeg(2048)}, withSelfie, ""},
		{"missing id type", Images{Front: jpeg(2048)}, Metadata{}, "id_type is required"},
		{"missing back", Images{Front: jpeg(2048)}, stateID, "back image is required"},
		{"undersized front", Images{Front: jpeg(100), Back: jpeg(2048)}, stateID, "front image is too small"},
		{"oversized front", Images{Front: jpeg(MaxImageBytes + 1), Back: jpeg(2048)}, stateID, "front image is too large"},
		{"not an image", Images{Front: bytes.Repeat([]byte("a"), 2048), Back: jpeg(2048)}, stateID, "front image must be a JPEG or PNG"},
		{"passport with front", Images{Passport: jpeg(2048), Front: jpeg(2048)}, passport, "passport captures must not include front or back images"},
		{"state id with passport", Images{Front: jpeg(2048), Back: jpeg(2048), Passport: jpeg(2048)}, stateID, "state id captures must not include a passport image"},
		{"selfie missing", Images{Front: jpeg(2048), Back: jpeg(2048)}, withSelfie, "selfie image is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rules.Check(tt.images, tt.meta)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Equal(t, tt.wantErr, dErrors.MessageOf(err))
		})
	}
}

func TestImageRules_UnsupportedIDType(t *testing.T) {
	rules := DefaultImageRules()
	rules.SupportedIDTypes = []IDType{IDTypeStateID}

	err := rules.Check(Images{Passport: jpeg(2048)}, Metadata{IDType: IDTypePassport})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestParseReasons(t *testing.T) {
	got := ParseReasons([]string{" Expired ", "unreadable", "expired", "bogus", ""})
	assert.Equal(t, []Reason{ReasonExpired, ReasonUnreadable}, got)
	assert.Equal(t, []string{"expired", "unreadable"}, ReasonStrings(got))
}

func TestFailVerdict_DefaultsReason(t *testing.T) {
	v := FailVerdict(nil, "code")
	assert.Equal(t, ResultFail, v.Result)
	assert.Equal(t, []Reason{ReasonUnreadable}, v.Reasons)
	assert.False(t, v.Transport)
}
