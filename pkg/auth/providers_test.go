package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderMappings_Select(t *testing.T) {
	pm := DefaultProviderMappings()

	tests := []struct {
		name     string
		provider string
		issuer   string
		want     string
		uidClaim string
	}{
		{"configured provider wins", "okta", "https://login.microsoftonline.com/x/v2.0", "okta", "sub"},
		{"azure by issuer", "", "https://login.microsoftonline.com/abc/v2.0", "azuread", "oid"},
		{"azure sts issuer", "", "https://sts.windows.net/abc/", "azuread", "oid"},
		{"okta by issuer", "", "https://dev-123.okta.com/oauth2/default", "okta", "sub"},
		{"google by issuer", "", "https://accounts.google.com", "google", "sub"},
		{"keycloak by issuer", "", "https://kc.example/realms/acme", "keycloak", "sub"},
		{"cognito by issuer", "", "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_abc", "cognito", "sub"},
		{"unknown provider falls through", "nope", "https://accounts.google.com", "google", "sub"},
		{"generic fallback", "", "https://idp.example", "generic", "sub"},
		{"case insensitive provider", "AzureAD", "", "azuread", "oid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := pm.Select(tt.provider, tt.issuer)
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m.Name)
			assert.Equal(t, tt.uidClaim, m.UIDClaim)
		})
	}
}

func TestFieldMapping_Principal(t *testing.T) {
	pm := DefaultProviderMappings()
	m := pm.Select("cognito", "")

	p, err := m.Principal(map[string]interface{}{
		"sub":              "abc",
		"email":            "a@example.com",
		"cognito:groups":   []interface{}{"admins", 7, "ops"},
		"cognito:username": "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", p.UID)
	assert.Equal(t, "a@example.com", p.Email)
	assert.Equal(t, []string{"admins", "ops"}, p.Roles)
	assert.Equal(t, "alice", p.Claims["cognito:username"])

	_, err = m.Principal(map[string]interface{}{"email": "x"})
	assert.Error(t, err)
}

func TestFieldMapping_NumericUID(t *testing.T) {
	m := DefaultProviderMappings().Select("", "")
	p, err := m.Principal(map[string]interface{}{"sub": float64(123456789)})
	require.NoError(t, err)
	assert.Equal(t, "123456789", p.UID)
}

func TestLoadProviderMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: corp
    issuer_pattern: '^https://sso\.corp\.example/'
    uid_claim: employee_id
    roles_claim: groups
    claims: [department]
  - name: google
    uid_claim: email
`), 0o600))

	pm, err := LoadProviderMappings(path)
	require.NoError(t, err)

	corp := pm.Select("", "https://sso.corp.example/realm")
	assert.Equal(t, "corp", corp.Name)
	assert.Equal(t, "employee_id", corp.UIDClaim)
	assert.Equal(t, "email", corp.EmailClaim)

	assert.Equal(t, "email", pm.Select("google", "").UIDClaim, "file entries replace built-ins")
	assert.Equal(t, "corp", pm.Names()[0])
	assert.Contains(t, pm.Names(), "generic")
}

func TestLoadProviderMappings_Errors(t *testing.T) {
	_, err := LoadProviderMappings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseProviderMappings([]byte("providers: [{name: bad, issuer_pattern: '('}]"))
	assert.Error(t, err)

	_, err = ParseProviderMappings([]byte("providers: [{uid_claim: x}]"))
	assert.Error(t, err)

	pm, err := LoadProviderMappings("")
	require.NoError(t, err)
	assert.Equal(t, "generic", pm.Select("", "").Name)
}

func TestPrincipal_IsAdmin(t *testing.T) {
	p := Principal{Roles: []string{"admin", "viewer"}}
	assert.False(t, p.IsAdmin(), "provider groups do not make an admin")

	p.Role = RoleAdmin
	assert.True(t, p.IsAdmin())
}
