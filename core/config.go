package core

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// DefaultRelayURL is used when no relay endpoint is supplied (local development).
const DefaultRelayURL = "http://localhost:5000"

type Config struct {
	Debug       bool
	TestMode    bool
	AppName     string
	Env         string // DEV (local; default), TEST, QA, PROD
	Build       string
	WorkDir     string
	TeacherName string
	LogLevel    string

	RollbarToken string

	Relay struct {
		URL               string
		ReconnectAttempts int
		ReconnectDelay    time.Duration
		DialTimeout       time.Duration
	}

	Inference struct {
		URL               string
		InsightTimeout    time.Duration
		CodeReviewTimeout time.Duration
		SuggestTimeout    time.Duration
	}

	Server struct {
		Host string
		Addr string
	}
}

// NewConfig reads the configuration from defaults, the optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed with the upper-cased env name, e.g. DEV_RELAYURL.
func NewConfig() (*Config, error) {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "ClassGuard")
	v.SetDefault("build", "dev")
	v.SetDefault("teacherName", "Teacher")
	v.SetDefault("logLevel", "info")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("relayURL", DefaultRelayURL)
	v.SetDefault("reconnectAttempts", 10)
	v.SetDefault("reconnectDelay", time.Second)
	v.SetDefault("dialTimeout", 10*time.Second)
	v.SetDefault("apiURL", "")
	v.SetDefault("insightTimeout", 15*time.Second)
	v.SetDefault("codeReviewTimeout", 30*time.Second)
	v.SetDefault("suggestTimeout", 10*time.Second)
	v.SetDefault("httpAddr", ":8000")
	v.SetDefault("testMode", false)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	workDir := Getwd()
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", dotEnvPath)
	}
	v.AutomaticEnv()

	conf := &Config{
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		Env:          env,
		Build:        v.GetString("build"),
		WorkDir:      workDir,
		TeacherName:  CleanString(v.GetString("teacherName")),
		LogLevel:     CleanString(v.GetString("logLevel"), true /* lower */),
		RollbarToken: v.GetString("rollbarToken"),
	}

	conf.Relay.URL = strings.TrimRight(CleanString(v.GetString("relayURL")), "/")
	conf.Relay.ReconnectAttempts = v.GetInt("reconnectAttempts")
	conf.Relay.ReconnectDelay = v.GetDuration("reconnectDelay")
	conf.Relay.DialTimeout = v.GetDuration("dialTimeout")

	// the inference service lives behind the same base URL unless told otherwise
	conf.Inference.URL = strings.TrimRight(CleanString(v.GetString("apiURL")), "/")
	if conf.Inference.URL == "" {
		conf.Inference.URL = conf.Relay.URL
	}
	conf.Inference.InsightTimeout = v.GetDuration("insightTimeout")
	conf.Inference.CodeReviewTimeout = v.GetDuration("codeReviewTimeout")
	conf.Inference.SuggestTimeout = v.GetDuration("suggestTimeout")

	conf.Server.Addr = v.GetString("httpAddr")
	conf.Server.Host, _ = os.Hostname()

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	var flds []FieldError
	if c.Relay.URL == "" {
		flds = append(flds, FieldError{Field: "relayURL", Error: "this field is required"})
	}
	if c.Relay.ReconnectAttempts < 0 {
		flds = append(flds, FieldError{Field: "reconnectAttempts", Error: "must not be negative"})
	}
	if c.TeacherName == "" {
		flds = append(flds, FieldError{Field: "teacherName", Error: "this field is required"})
	}
	if len(flds) > 0 {
		return NewValidationError(errors.New("invalid configuration"), flds...)
	}
	return nil
}

// Getwd tries to find the module root (the directory holding go.mod).
// go-test changes the working directory to the test package being run, so we walk up from there.
// Falls back to the current working directory when no module root is found (e.g. installed binaries).
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}
