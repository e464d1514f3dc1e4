package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	CRM      CRMConfig      `mapstructure:"crm"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.DBName,
		}
		q := u.Query()
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		q.Set("sslmode", sslMode)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if c.Path == "" {
		return "file::memory:?cache=shared"
	}
	return c.Path + "?_busy_timeout=5000"
}

type WorkerConfig struct {
	Command       string               `mapstructure:"command"`
	Workdir       string               `mapstructure:"workdir"`
	Timeout       time.Duration        `mapstructure:"timeout"`
	KillOnTimeout bool                 `mapstructure:"kill_on_timeout"`
	MirrorStdout  bool                 `mapstructure:"mirror_stdout"`
	OutputWindow  int                  `mapstructure:"output_window"`
	AppendBuffer  int                  `mapstructure:"append_buffer"`
	Scripts       []WorkerScriptConfig `mapstructure:"scripts"`
}

type CRMConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	DriverURL        string        `mapstructure:"driver_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DialogWait       time.Duration `mapstructure:"dialog_wait"`
	ArtifactsDir     string        `mapstructure:"artifacts_dir"`
	ApprovalField    string        `mapstructure:"approval_field"`
	PaymentSlipField string        `mapstructure:"payment_slip_field"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("worker.timeout", "WORKER_TIMEOUT")
	v.BindEnv("worker.command", "WORKER_COMMAND")
	v.BindEnv("crm.driver_url", "CRM_DRIVER_URL")
	v.BindEnv("crm.api_key", "CRM_API_KEY")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Worker.Scripts {
		cfg.Worker.Scripts[i].ResolveEnvVars()
		if err := cfg.Worker.Scripts[i].Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/enrollflow.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("worker.command", "node")
	v.SetDefault("worker.workdir", ".")
	v.SetDefault("worker.timeout", 15*time.Minute)
	v.SetDefault("worker.kill_on_timeout", true)
	v.SetDefault("worker.mirror_stdout", true)
	v.SetDefault("worker.output_window", 20000)
	v.SetDefault("worker.append_buffer", 256)
	v.SetDefault("crm.enabled", false)
	v.SetDefault("crm.timeout", 2*time.Minute)
	v.SetDefault("crm.dialog_wait", 8*time.Second)
	v.SetDefault("crm.artifacts_dir", "./artifacts")
	v.SetDefault("crm.approval_field", "comprovante_aprovacao")
	v.SetDefault("crm.payment_slip_field", "boleto")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "enrollment-artifacts")
	v.SetDefault("storage.prefix", "executions")
}
