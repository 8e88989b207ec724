package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVendorCodes(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil stays nil", nil, nil},
		{"empty stays empty", []string{}, []string{}},
		{"trims and drops blanks", []string{" R831 ", "", "   ", "decision:reject"}, []string{"R831", "decision:reject"}},
		{"first occurrence wins", []string{"R450", "R831", "R450"}, []string{"R450", "R831"}},
		{"case is significant", []string{"R123", "r123"}, []string{"R123", "r123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VendorCodes(tt.in))
		})
	}
}

func TestFoldedCodes(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil stays nil", nil, nil},
		{"folds case before deduping", []string{"EXPIRED", " expired", "Expired "}, []string{"expired"}},
		{"keeps reported order", []string{"Unreadable", "expired", "UNREADABLE"}, []string{"unreadable", "expired"}},
		{"only blanks", []string{"", "  "}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FoldedCodes(tt.in))
		})
	}
}
