package migratables

import "github.com/tis24dev/confmigrate/internal/migration"

// DefaultSpecs returns the built-in platform and security components used
// when the configuration declares none.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			ID:           "platform",
			Version:      "1.0",
			Title:        "Platform",
			Description:  "Platform configuration files and branding",
			Organization: "confmigrate",
			Files: []FileSpec{
				{Path: "etc/system.properties"},
				{Path: "etc/custom.system.properties", Optional: true},
				{Path: "etc/users.properties", Optional: true},
				{Path: "etc/users.attributes", Optional: true},
			},
			Directories: []DirSpec{
				{Path: "etc/branding", Include: []string{"*.properties", "*.png", "*.svg"}},
			},
		},
		{
			ID:           "security",
			Version:      "1.0",
			Title:        "Security",
			Description:  "Security policies, PDP configuration and key stores",
			Organization: "confmigrate",
			Directories: []DirSpec{
				{Path: "etc/security"},
				{Path: "etc/pdp"},
			},
			SystemProperties: []string{
				"javax.net.ssl.keyStore",
				"javax.net.ssl.trustStore",
			},
		},
	}
}

// Build turns specs into components, in order.
func Build(specs []Spec) ([]migration.Migratable, error) {
	out := make([]migration.Migratable, 0, len(specs))
	for _, spec := range specs {
		f, err := New(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
