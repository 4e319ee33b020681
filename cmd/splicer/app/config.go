package app

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/openvideo-live/splicer/pkg/logging"
)

type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Port      int    `json:"port"`
	TimeoutS  int    `json:"timeoutS"`

	// StoreRoot is the object-store root: channel configs, ad pods, slates.
	StoreRoot string `json:"storeroot"`
	// DataDir holds the durable KV (break state, dedup). Empty means
	// in-memory, for tests and stateless deployments.
	DataDir string `json:"datadir"`
	// RedisAddr enables the shared queue and VAST cache. Empty falls back to
	// in-process equivalents.
	RedisAddr string `json:"redisaddr"`

	// JWT viewer auth. Empty secret and key path disable auth.
	JWTSecret string `json:"jwtsecret"`
	JWTPubKey string `json:"jwtpubkey"`

	MaxRequests  int `json:"maxrequests"`
	ReqLimitIntS int `json:"reqlimitintS"`

	PlaylistMaxAgeS int `json:"playlistmaxageS"`
	SegmentMaxAgeS  int `json:"segmentmaxageS"`
}

var DefaultConfig = ServerConfig{
	LogFormat:       "pretty",
	LogLevel:        "info",
	Port:            8990,
	TimeoutS:        10,
	StoreRoot:       "./store",
	PlaylistMaxAgeS: 2,
	SegmentMaxAgeS:  60,
}

// LoadConfig loads defaults, config file, command line, and finally applies
// environment variables (SPLICER_ prefix).
func LoadConfig(args []string, cwd string) (*ServerConfig, error) {
	k := koanf.New(".")
	defaults := DefaultConfig
	k.Load(structs.Provider(defaults, "json"), nil)

	f := pflag.NewFlagSet("splicer", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	f.Int("port", k.Int("port"), "HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.Int("timeout", k.Int("timeoutS"), "timeout for all requests (seconds)")
	f.String("storeroot", k.String("storeroot"), "object store root directory")
	f.String("datadir", k.String("datadir"), "durable KV directory (empty = in-memory)")
	f.String("redisaddr", k.String("redisaddr"), "redis address for queue and caches")
	f.String("jwtsecret", k.String("jwtsecret"), "HS256 JWT secret for viewer auth")
	f.String("jwtpubkey", k.String("jwtpubkey"), "path to RS256 public key PEM for viewer auth")
	f.Int("maxrequests", k.Int("maxrequests"), "max requests per IP per interval (0 = no limit)")
	f.Int("reqlimitint", k.Int("reqlimitintS"), "interval for request limit (seconds)")
	f.Int("playlistmaxage", k.Int("playlistmaxageS"), "Cache-Control max-age for playlists (seconds)")
	f.Int("segmentmaxage", k.Int("segmentmaxageS"), "Cache-Control max-age for segments (seconds)")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *cfgFile != "" {
		cf := file.Provider(*cfgFile)
		if err := k.Load(cf, json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %v", err)
	}

	k.Load(env.Provider("SPLICER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SPLICER_")), "_", ".", -1)
	}), nil)

	storeRoot := k.String("storeroot")
	if storeRoot != "" && !path.IsAbs(storeRoot) {
		storeRoot = path.Join(cwd, storeRoot)
		k.Load(confmap.Provider(map[string]any{
			"storeroot": storeRoot,
		}, "."), nil)
	}

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
