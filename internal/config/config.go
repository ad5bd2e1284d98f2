package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tis24dev/confmigrate/internal/crypt"
	"github.com/tis24dev/confmigrate/internal/migratables"
	"github.com/tis24dev/confmigrate/internal/types"
)

const (
	// EnvPrefix prefixes every environment override, e.g. CONFMIGRATE_HOME.
	EnvPrefix = "CONFMIGRATE"

	configName = "confmigrate"
)

// Config holds the settings of one confmigrate run.
type Config struct {
	// ConfigFile is the file that was read, empty when none was found.
	ConfigFile string

	Home           string
	ExportDir      string
	ProductVersion string
	Cipher         crypt.Algorithm
	Passphrase     string

	LogLevel types.LogLevel
	UseColor bool
	LogFile  string

	SystemPropertiesFile       string
	CustomSystemPropertiesFile string
	ConfigAdminDir             string
	MetricsTextfileDir         string

	// MinFreeSpace is the space required in the export directory before an
	// export or decrypt starts; zero disables the check.
	MinFreeSpace uint64
	LockMaxAge   time.Duration

	Migratables []migratables.Spec
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"home":            "home",
	"export-dir":      "export_dir",
	"product-version": "product_version",
	"cipher":          "cipher",
	"log-level":       "log_level",
	"log-file":        "log_file",
	"metrics-dir":     "metrics.textfile_dir",
	"min-free-space":  "preflight.min_free_space",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("export_dir", "exported")
	v.SetDefault("cipher", string(crypt.AlgorithmAES))
	v.SetDefault("log_level", "info")
	v.SetDefault("use_color", true)
	v.SetDefault("system_properties_file", "etc/system.properties")
	v.SetDefault("custom_system_properties_file", "etc/custom.system.properties")
	v.SetDefault("configadmin_dir", "etc/configadmin")
	v.SetDefault("metrics.textfile_dir", "")
	v.SetDefault("preflight.min_free_space", "")
	v.SetDefault("preflight.lock_max_age", "2h")
}

// LoadConfig reads configPath, or confmigrate.yaml from the working
// directory or the user config directory when configPath is empty, then
// applies CONFMIGRATE_* environment variables and the changed flags.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configName))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read configuration: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", flag, err)
				}
			}
		}
	}

	cfg := &Config{ConfigFile: v.ConfigFileUsed()}
	if err := cfg.parse(v); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parse(v *viper.Viper) error {
	c.Home = expandEnvVars(strings.TrimSpace(v.GetString("home")))
	if c.Home == "" {
		return fmt.Errorf("home is not set (use --home, %s_HOME or the home key)", EnvPrefix)
	}
	home, err := filepath.Abs(c.Home)
	if err != nil {
		return fmt.Errorf("resolve home %s: %w", c.Home, err)
	}
	c.Home = home

	c.ProductVersion = strings.TrimSpace(v.GetString("product_version"))
	if c.ProductVersion == "" {
		return fmt.Errorf("product_version is not set")
	}

	c.ExportDir = expandEnvVars(v.GetString("export_dir"))
	if strings.TrimSpace(c.ExportDir) == "" {
		return fmt.Errorf("export_dir is empty")
	}

	if c.Cipher, err = crypt.ParseAlgorithm(v.GetString("cipher")); err != nil {
		return err
	}
	c.Passphrase = v.GetString("passphrase")
	if c.Passphrase != "" && c.Cipher != crypt.AlgorithmAES {
		return fmt.Errorf("passphrase is only supported with the %s cipher", crypt.AlgorithmAES)
	}

	if c.LogLevel, err = types.ParseLogLevel(v.GetString("log_level")); err != nil {
		return err
	}
	c.UseColor = v.GetBool("use_color")
	c.LogFile = expandEnvVars(v.GetString("log_file"))

	c.SystemPropertiesFile = expandEnvVars(v.GetString("system_properties_file"))
	c.CustomSystemPropertiesFile = expandEnvVars(v.GetString("custom_system_properties_file"))
	c.ConfigAdminDir = expandEnvVars(v.GetString("configadmin_dir"))
	c.MetricsTextfileDir = expandEnvVars(v.GetString("metrics.textfile_dir"))

	if raw := strings.TrimSpace(v.GetString("preflight.min_free_space")); raw != "" {
		if c.MinFreeSpace, err = humanize.ParseBytes(raw); err != nil {
			return fmt.Errorf("invalid preflight.min_free_space %q: %w", raw, err)
		}
	}
	if c.LockMaxAge = v.GetDuration("preflight.lock_max_age"); c.LockMaxAge <= 0 {
		return fmt.Errorf("preflight.lock_max_age must be positive")
	}

	return c.parseMigratables(v)
}

func (c *Config) parseMigratables(v *viper.Viper) error {
	var specs []migratables.Spec
	if err := v.UnmarshalKey("migratables", &specs); err != nil {
		return fmt.Errorf("parse migratables: %w", err)
	}
	if len(specs) == 0 {
		specs = migratables.DefaultSpecs()
	}
	seen := make(map[string]struct{}, len(specs))
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return fmt.Errorf("migratables[%d]: %w", i, err)
		}
		if _, dup := seen[specs[i].ID]; dup {
			return fmt.Errorf("migratables[%d]: duplicate id %s", i, specs[i].ID)
		}
		seen[specs[i].ID] = struct{}{}
	}
	c.Migratables = specs
	return nil
}

// expandEnvVars expands $VAR and ${VAR} references.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.ExpandEnv(s)
}
