package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	assert.Error(t, ValidatePassword("12345"))
	assert.NoError(t, ValidatePassword("123456"))
	assert.Error(t, ValidatePassword(strings.Repeat("a", 129)))
}

func TestValidateInstitutionalEmail(t *testing.T) {
	const domain = "@saividya.ac.in"
	tests := []struct {
		email   string
		wantErr bool
	}{
		{"student@saividya.ac.in", false},
		{"  Student@SaiVidya.AC.IN ", false},
		{"student@gmail.com", true},
		{"student@saividya.ac.in.evil.com", true},
		{"@saividya.ac.in", true},
		{"saividya.ac.in", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := ValidateInstitutionalEmail(tt.email, domain)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateInstitutionalEmail_DomainWithoutAt(t *testing.T) {
	assert.NoError(t, ValidateInstitutionalEmail("a@campus.edu", "campus.edu"))
	assert.Error(t, ValidateInstitutionalEmail("a@notcampus.edu", "@campus.edu"))
	assert.Error(t, ValidateInstitutionalEmail("a@campus.edu", ""))
}

func TestRequireText(t *testing.T) {
	assert.Error(t, RequireText("Title", "   ", 10))
	assert.Error(t, RequireText("Title", strings.Repeat("é", 11), 10))
	assert.NoError(t, RequireText("Title", strings.Repeat("é", 10), 10))
}
