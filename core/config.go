package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Address                   string
		DebugAddress              string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	RateLimitConfig struct {
		Limit  int64
		Period time.Duration
		Prefix string
	}

	IdentityConfig struct {
		BatchSize     int
		MaxBatchSize  int
		MaxIDAttempts int
	}

	BootstrapConfig struct {
		AdminEmail     string
		AdminPassword  string
		AdminFirstName string
		AdminLastName  string
	}

	AuditConfig struct {
		MaxRetries   uint64
		RetryBackoff time.Duration
	}

	Config struct {
		Debug               bool
		TestMode            bool
		Env                 string
		Build               string
		AppName             string
		SecretKey           string
		DefaultFromEmail    mail.Address
		RollbarToken        string
		SendgridAPIKey      string
		CommonPasswordsPath string

		Server    ServerConfig
		Database  DatabaseConfig
		Redis     RedisConfig
		RateLimit RateLimitConfig
		Identity  IdentityConfig
		Bootstrap BootstrapConfig
		Audit     AuditConfig
	}
)

// Address returns the database "host:port".
func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

// NewConfig loads the configuration for the current ENV (DEV by default).
// Values come from defaults, then config/.env.<env> (if it exists), then the environment,
// where every key is prefixed with the ENV name, eg. DEV_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return fromViper(v, env)
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Masomo")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("defaultFromEmail", "Masomo <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("commonPasswordsPath", filepath.Join("assets", "common-passwords.txt.gz"))

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.debugAddress", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 4*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "masomo")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "masomo")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rateLimit.limit", int64(20))
	v.SetDefault("rateLimit.period", time.Minute)
	v.SetDefault("rateLimit.prefix", "masomo:ratelimit:")

	v.SetDefault("identity.batchSize", 10)
	v.SetDefault("identity.maxBatchSize", 1000)
	v.SetDefault("identity.maxIdAttempts", 1000)

	v.SetDefault("bootstrap.adminEmail", "")
	v.SetDefault("bootstrap.adminPassword", "")
	v.SetDefault("bootstrap.adminFirstName", "System")
	v.SetDefault("bootstrap.adminLastName", "Administrator")

	v.SetDefault("audit.maxRetries", uint64(3))
	v.SetDefault("audit.retryBackoff", 50*time.Millisecond)
}

func fromViper(v *viper.Viper, env string) *Config {
	from, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}

	return &Config{
		Debug:               v.GetBool("debug"),
		TestMode:            v.GetBool("testMode"),
		Env:                 env,
		Build:               v.GetString("build"),
		AppName:             v.GetString("appName"),
		SecretKey:           v.GetString("secretKey"),
		DefaultFromEmail:    *from,
		RollbarToken:        v.GetString("rollbarToken"),
		SendgridAPIKey:      v.GetString("sendgridApiKey"),
		CommonPasswordsPath: v.GetString("commonPasswordsPath"),
		Server: ServerConfig{
			Address:                   v.GetString("server.address"),
			DebugAddress:              v.GetString("server.debugAddress"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			Limit:  v.GetInt64("rateLimit.limit"),
			Period: v.GetDuration("rateLimit.period"),
			Prefix: v.GetString("rateLimit.prefix"),
		},
		Identity: IdentityConfig{
			BatchSize:     v.GetInt("identity.batchSize"),
			MaxBatchSize:  v.GetInt("identity.maxBatchSize"),
			MaxIDAttempts: v.GetInt("identity.maxIdAttempts"),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:     v.GetString("bootstrap.adminEmail"),
			AdminPassword:  v.GetString("bootstrap.adminPassword"),
			AdminFirstName: v.GetString("bootstrap.adminFirstName"),
			AdminLastName:  v.GetString("bootstrap.adminLastName"),
		},
		Audit: AuditConfig{
			MaxRetries:   v.GetUint64("audit.maxRetries"),
			RetryBackoff: v.GetDuration("audit.retryBackoff"),
		},
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (env=%s build=%s debug=%t)", c.AppName, c.Env, c.Build, c.Debug)
}
