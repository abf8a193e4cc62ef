// assetbridge/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config carries everything the daemon needs at startup. The GUI client
// populates these through environment variables before spawning the process;
// a yaml file works too for running the daemon by hand.
type Config struct {
	Port          string `mapstructure:"PORT"`
	APIBase       string `mapstructure:"API_BASE"`
	OAuthClientID string `mapstructure:"OAUTH_CLIENT_ID"`

	// TLS trust source: "system", "bundle" or "both".
	TLSTrust string `mapstructure:"TLS_TRUST"`
	CABundle string `mapstructure:"CA_BUNDLE"`

	// Proxy mode: "none", "system" or "custom" (with ProxyURL set).
	ProxyMode string `mapstructure:"PROXY_MODE"`
	ProxyURL  string `mapstructure:"PROXY_URL"`

	ConnectTimeout time.Duration `mapstructure:"CONNECT_TIMEOUT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// IdleExit bounds how long the daemon stays alive without any GUI poll.
	IdleExit time.Duration `mapstructure:"IDLE_EXIT"`

	ChunkSize            int64 `mapstructure:"CHUNK_SIZE"`
	ThumbnailConcurrency int   `mapstructure:"THUMBNAIL_CONCURRENCY"`
	MinFreeDisk          int64 `mapstructure:"MIN_FREE_DISK"`

	BlenderBin        string `mapstructure:"BLENDER_BIN"`
	BlenderExtraArgs  string `mapstructure:"BLENDER_EXTRA_ARGS"`
	BlenderScriptsDir string `mapstructure:"BLENDER_SCRIPTS_DIR"`

	// Minimum host application version whose image libraries decode WebP
	// thumbnails; older hosts get JPEG variants.
	WebpMinVersion string `mapstructure:"WEBP_MIN_VERSION"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Defaults as strings, the hooks take care of durations and sizes.
	vp.SetDefault("PORT", "62485")
	vp.SetDefault("API_BASE", "https://api.assetbridge.local")
	vp.SetDefault("OAUTH_CLIENT_ID", "")
	vp.SetDefault("TLS_TRUST", "system")
	vp.SetDefault("CA_BUNDLE", "")
	vp.SetDefault("PROXY_MODE", "none")
	vp.SetDefault("PROXY_URL", "")
	vp.SetDefault("CONNECT_TIMEOUT", "30s")
	vp.SetDefault("REQUEST_TIMEOUT", "5m")
	vp.SetDefault("IDLE_EXIT", "5m")
	vp.SetDefault("CHUNK_SIZE", "4MB")
	vp.SetDefault("THUMBNAIL_CONCURRENCY", 12)
	vp.SetDefault("MIN_FREE_DISK", "500MB")
	vp.SetDefault("BLENDER_BIN", "blender")
	vp.SetDefault("BLENDER_EXTRA_ARGS", "")
	vp.SetDefault("BLENDER_SCRIPTS_DIR", "blender_scripts")
	vp.SetDefault("WEBP_MIN_VERSION", "3.4.0")

	// Load from config file
	vp.SetConfigName("assetbridge_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/assetbridge/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("ASSETBRIDGE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
