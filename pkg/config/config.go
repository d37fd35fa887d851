package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	tderrors "github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml/v2"
)

// DefaultPath is the system config file.
const DefaultPath = "/etc/tomcatd/tomcatd.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TOMCATD_"

//go:embed embedded/defaults.toml
var defaultConfig []byte

type rawBytesProvider struct{ bytes []byte }

func (r *rawBytesProvider) ReadBytes() ([]byte, error) { return r.bytes, nil }
func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

// Config is the effective host configuration.
type Config struct {
	Paths     Paths     `koanf:"paths"`
	Reconcile Reconcile `koanf:"reconcile"`
	Lifecycle Lifecycle `koanf:"lifecycle"`

	// Source is the config file that was loaded, empty when none was.
	Source string `koanf:"-"`

	raw map[string]interface{}
}

type Paths struct {
	OptDir       string `koanf:"opt_dir"`
	SharedRoot   string `koanf:"shared_root"`
	PrivateRoot  string `koanf:"private_root"`
	PasswdFile   string `koanf:"passwd_file"`
	DesiredState string `koanf:"desired_state"`
	StateDB      string `koanf:"state_db"`
	MetricsFile  string `koanf:"metrics_file"`
	ProcMount    string `koanf:"proc_mount"`
}

type Reconcile struct {
	Workers       int      `koanf:"workers"`
	SentinelUID   int      `koanf:"sentinel_uid"`
	KeepNames     []string `koanf:"keep_names"`
	DeleteOrphans bool     `koanf:"delete_orphans"`
	RPMBinary     string   `koanf:"rpm_binary"`
}

type Lifecycle struct {
	RestartWorkers int           `koanf:"restart_workers"`
	RestartTimeout time.Duration `koanf:"restart_timeout"`
	GraceDelay     time.Duration `koanf:"grace_delay"`
	StartTimeout   time.Duration `koanf:"start_timeout"`
	StopTimeout    time.Duration `koanf:"stop_timeout"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	KillOnTimeout  bool          `koanf:"kill_on_timeout"`
}

// Load builds the configuration. An explicit path must exist; without one
// the default locations are tried and skipped when absent.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Embedded defaults
	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, tderrors.Wrap(err, tderrors.ErrConfigParse, "loading defaults")
	}

	// 2. Config file
	source, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}
	if source != "" {
		if err := k.Load(file.Provider(source), toml.Parser()); err != nil {
			return nil, tderrors.Wrapf(err, tderrors.ErrConfigParse, "loading %s", source).
				WithDetail("path", source)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, tderrors.Wrap(err, tderrors.ErrConfigLoad, "loading environment")
	}

	// 4. Unmarshal
	cfg := &Config{Source: source, raw: k.Raw()}
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf); err != nil {
		return nil, tderrors.Wrap(err, tderrors.ErrConfigParse, "decoding configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps TOMCATD_LIFECYCLE__GRACE_DELAY to lifecycle.grace_delay.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", tderrors.Wrapf(err, tderrors.ErrConfigLoad, "config file %s", explicit).
				WithDetail("path", explicit)
		}
		return explicit, nil
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath, nil
	}
	if found, err := xdg.SearchConfigFile(filepath.Join("tomcatd", "tomcatd.toml")); err == nil {
		return found, nil
	}
	return "", nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	for key, p := range map[string]string{
		"paths.opt_dir":     c.Paths.OptDir,
		"paths.shared_root": c.Paths.SharedRoot,
		"paths.proc_mount":  c.Paths.ProcMount,
	} {
		if !filepath.IsAbs(p) {
			problems = append(problems, fmt.Sprintf("%s must be an absolute path, got %q", key, p))
		}
	}
	if c.Reconcile.Workers < 1 {
		problems = append(problems, "reconcile.workers must be at least 1")
	}
	if c.Lifecycle.RestartWorkers < 1 {
		problems = append(problems, "lifecycle.restart_workers must be at least 1")
	}
	for key, d := range map[string]time.Duration{
		"lifecycle.restart_timeout": c.Lifecycle.RestartTimeout,
		"lifecycle.start_timeout":   c.Lifecycle.StartTimeout,
		"lifecycle.stop_timeout":    c.Lifecycle.StopTimeout,
		"lifecycle.poll_interval":   c.Lifecycle.PollInterval,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", key))
		}
	}
	if c.Lifecycle.GraceDelay < 0 {
		problems = append(problems, "lifecycle.grace_delay must not be negative")
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return tderrors.Newf(tderrors.ErrConfigValid, "invalid configuration: %s", strings.Join(problems, "; ")).
		WithDetail("source", c.Source)
}

// Dump renders the effective configuration as TOML.
func (c *Config) Dump() ([]byte, error) {
	out, err := gotoml.Marshal(c.raw)
	if err != nil {
		return nil, tderrors.Wrap(err, tderrors.ErrInternal, "encoding configuration")
	}
	return out, nil
}
