package auth

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderGeneric is the fallback mapping used when nothing else matches
const ProviderGeneric = "generic"

// FieldMapping says which claims of a provider's tokens hold the principal fields
type FieldMapping struct {
	Name          string   `yaml:"name"`
	IssuerPattern string   `yaml:"issuer_pattern"`
	UIDClaim      string   `yaml:"uid_claim"`
	EmailClaim    string   `yaml:"email_claim"`
	NameClaim     string   `yaml:"name_claim"`
	RolesClaim    string   `yaml:"roles_claim"`
	Claims        []string `yaml:"claims"`

	issuer *regexp.Regexp
}

func (m *FieldMapping) compile() error {
	if m.Name == "" {
		return fmt.Errorf("provider mapping name is required")
	}
	if m.UIDClaim == "" {
		m.UIDClaim = "sub"
	}
	if m.EmailClaim == "" {
		m.EmailClaim = "email"
	}
	if m.NameClaim == "" {
		m.NameClaim = "name"
	}
	if m.IssuerPattern != "" {
		re, err := regexp.Compile(m.IssuerPattern)
		if err != nil {
			return fmt.Errorf("provider %s: invalid issuer pattern: %w", m.Name, err)
		}
		m.issuer = re
	}
	return nil
}

var builtinMappings = []FieldMapping{
	{
		Name:          "azuread",
		IssuerPattern: `^https://(login\.microsoftonline\.com|sts\.windows\.net)/`,
		UIDClaim:      "oid",
		EmailClaim:    "email",
		NameClaim:     "name",
		RolesClaim:    "roles",
		Claims:        []string{"tid", "preferred_username"},
	},
	{
		Name:          "okta",
		IssuerPattern: `^https://[^/]+\.okta(preview)?\.com(/|$)`,
		UIDClaim:      "sub",
		RolesClaim:    "groups",
		Claims:        []string{"preferred_username"},
	},
	{
		Name:          "google",
		IssuerPattern: `^https://accounts\.google\.com/?$`,
		UIDClaim:      "sub",
		Claims:        []string{"hd"},
	},
	{
		Name:          "auth0",
		IssuerPattern: `^https://[^/]+\.auth0\.com/`,
		UIDClaim:      "sub",
		Claims:        []string{"nickname"},
	},
	{
		Name:          "keycloak",
		IssuerPattern: `/realms/[^/]+/?$`,
		UIDClaim:      "sub",
		RolesClaim:    "groups",
		Claims:        []string{"preferred_username"},
	},
	{
		Name:          "cognito",
		IssuerPattern: `^https://cognito-idp\.[a-z0-9-]+\.amazonaws\.com/`,
		UIDClaim:      "sub",
		RolesClaim:    "cognito:groups",
		Claims:        []string{"cognito:username"},
	},
	{
		Name:     ProviderGeneric,
		UIDClaim: "sub",
	},
}

// ProviderMappings is the provider field-mapping table
type ProviderMappings struct {
	ordered []*FieldMapping
	byName  map[string]*FieldMapping
}

type mappingsFile struct {
	Providers []FieldMapping `yaml:"providers"`
}

// DefaultProviderMappings returns the built-in table
func DefaultProviderMappings() *ProviderMappings {
	pm, err := newProviderMappings(nil)
	if err != nil {
		// Built-in patterns are constants.
		panic(err)
	}
	return pm
}

// LoadProviderMappings reads extra mappings from a YAML file. File entries
// are matched before built-ins and replace built-ins with the same name.
// An empty path yields the built-in table.
func LoadProviderMappings(path string) (*ProviderMappings, error) {
	if path == "" {
		return DefaultProviderMappings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider mappings: %w", err)
	}
	return ParseProviderMappings(data)
}

// ParseProviderMappings parses YAML provider mappings
func ParseProviderMappings(data []byte) (*ProviderMappings, error) {
	var file mappingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse provider mappings: %w", err)
	}
	return newProviderMappings(file.Providers)
}

func newProviderMappings(custom []FieldMapping) (*ProviderMappings, error) {
	pm := &ProviderMappings{byName: make(map[string]*FieldMapping)}

	add := func(m FieldMapping) error {
		m.Name = strings.ToLower(strings.TrimSpace(m.Name))
		if _, exists := pm.byName[m.Name]; exists {
			return nil
		}
		if err := m.compile(); err != nil {
			return err
		}
		pm.byName[m.Name] = &m
		pm.ordered = append(pm.ordered, &m)
		return nil
	}

	for _, m := range custom {
		if err := add(m); err != nil {
			return nil, err
		}
	}
	for _, m := range builtinMappings {
		if err := add(m); err != nil {
			return nil, err
		}
	}
	return pm, nil
}

// Select picks the mapping for a token: the configured provider when set
// and known, else the first issuer pattern that matches, else generic.
func (pm *ProviderMappings) Select(provider, issuer string) *FieldMapping {
	if provider != "" {
		if m, ok := pm.byName[strings.ToLower(provider)]; ok {
			return m
		}
	}
	for _, m := range pm.ordered {
		if m.issuer != nil && m.issuer.MatchString(issuer) {
			return m
		}
	}
	return pm.byName[ProviderGeneric]
}

// Names lists the known providers in match order
func (pm *ProviderMappings) Names() []string {
	names := make([]string, 0, len(pm.ordered))
	for _, m := range pm.ordered {
		names = append(names, m.Name)
	}
	return names
}

// Principal builds a principal from verified claims
func (m *FieldMapping) Principal(claims map[string]interface{}) (Principal, error) {
	p := Principal{
		UID:      stringClaim(claims, m.UIDClaim),
		Email:    stringClaim(claims, m.EmailClaim),
		Name:     stringClaim(claims, m.NameClaim),
		Provider: m.Name,
	}
	if p.UID == "" {
		return Principal{}, fmt.Errorf("token has no %q claim", m.UIDClaim)
	}
	if m.RolesClaim != "" {
		p.Roles = stringsClaim(claims, m.RolesClaim)
	}
	if len(m.Claims) > 0 {
		p.Claims = make(map[string]interface{}, len(m.Claims))
		for _, c := range m.Claims {
			if v, ok := claims[c]; ok {
				p.Claims[c] = v
			}
		}
	}
	return p, nil
}

func stringClaim(claims map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func stringsClaim(claims map[string]interface{}, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
