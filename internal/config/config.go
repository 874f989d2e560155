package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BackendMemory = "memory"
	BackendBadger = "badger"

	ConcurrencyOptimistic  = "optimistic"
	ConcurrencyPessimistic = "pessimistic"

	envPrefix  = "GRAPHSTORE"
	configName = "graphstore"
)

type EngineConfig struct {
	Backend     string        `mapstructure:"backend" default:"memory" description:"storage backend: memory or badger"`
	Concurrency string        `mapstructure:"concurrency" default:"optimistic" description:"concurrency control: optimistic (OCC) or pessimistic (2PL)"`
	LockTimeout time.Duration `mapstructure:"lockTimeout" default:"1s" description:"how long a 2PL lock request waits before failing"`
	DataDir     string        `mapstructure:"dataDir" default:"./data" description:"badger data directory"`
	InMemory    bool          `mapstructure:"inMemory" default:"false" description:"run badger without touching disk"`
	UseWal      bool          `mapstructure:"useWal" default:"false" description:"log memory backend commits to a write ahead log"`
	WalPath     string        `mapstructure:"walPath" default:"./data/graphstore.wal" description:"write ahead log file of the memory backend"`
	SyncWal     bool          `mapstructure:"syncWal" default:"false" description:"fsync every commit"`
}

type DispatcherConfig struct {
	BatchParallelism int `mapstructure:"batchParallelism" default:"8" description:"concurrent point gets per id query"`
	PageSize         int `mapstructure:"pageSize" default:"1000" description:"rows per page when a query sets no limit"`
}

type GraphStoreConfig struct {
	LogLevel   string           `mapstructure:"logLevel" default:"info" description:"Log Level"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
}

// visitFields calls fn for every leaf field with its dotted viper key.
func visitFields(t reflect.Type, prefix string, fn func(key string, field reflect.StructField)) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := prefix + field.Tag.Get("mapstructure")
		if field.Type.Kind() == reflect.Struct {
			visitFields(field.Type, key+".", fn)
			continue
		}
		fn(key, field)
	}
}

func setDefaults(v *viper.Viper) {
	visitFields(reflect.TypeOf(GraphStoreConfig{}), "", func(key string, field reflect.StructField) {
		v.SetDefault(key, field.Tag.Get("default"))
	})
}

// RegisterFlags adds one flag per config key, e.g. --engine.backend, using
// the default and description tags.
func RegisterFlags(fs *pflag.FlagSet) {
	visitFields(reflect.TypeOf(GraphStoreConfig{}), "", func(key string, field reflect.StructField) {
		def, usage := field.Tag.Get("default"), field.Tag.Get("description")
		switch field.Type.Kind() {
		case reflect.Bool:
			fs.Bool(key, def == "true", usage)
		case reflect.Int:
			n, _ := strconv.Atoi(def)
			fs.Int(key, n, usage)
		default:
			fs.String(key, def, usage)
		}
	})
}

// LoadConfig layers flags over environment (GRAPHSTORE_ENGINE_BACKEND, ...)
// over the config file over the tag defaults. An empty path looks for
// graphstore.{json,yaml,toml} in the working directory and tolerates its
// absence. flags may be nil.
func LoadConfig(path string, flags *pflag.FlagSet) (*GraphStoreConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	if flags != nil {
		var err error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Changed && err == nil {
				err = v.BindPFlag(f.Name, f)
			}
		})
		if err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}

	cfg := &GraphStoreConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default is the configuration with every tag default applied.
func Default() *GraphStoreConfig {
	v := viper.New()
	setDefaults(v)
	cfg := &GraphStoreConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(err)
	}
	return cfg
}

func (c *GraphStoreConfig) Validate() error {
	switch c.Engine.Backend {
	case BackendMemory, BackendBadger:
	default:
		return errors.Errorf("engine.backend must be %q or %q, got %q", BackendMemory, BackendBadger, c.Engine.Backend)
	}
	switch c.Engine.Concurrency {
	case ConcurrencyOptimistic, ConcurrencyPessimistic:
	default:
		return errors.Errorf("engine.concurrency must be %q or %q, got %q", ConcurrencyOptimistic, ConcurrencyPessimistic, c.Engine.Concurrency)
	}
	if c.Engine.LockTimeout <= 0 {
		return errors.Errorf("engine.lockTimeout must be positive, got %v", c.Engine.LockTimeout)
	}
	if c.Dispatcher.BatchParallelism < 1 {
		return errors.Errorf("dispatcher.batchParallelism must be at least 1, got %d", c.Dispatcher.BatchParallelism)
	}
	if c.Dispatcher.PageSize < 1 {
		return errors.Errorf("dispatcher.pageSize must be at least 1, got %d", c.Dispatcher.PageSize)
	}
	return nil
}
