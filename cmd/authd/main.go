package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/channel"
	pkgconfig "github.com/vritti-ai-platforms/cloud-server-sub003/pkg/config"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/events"
	eventsapi "github.com/vritti-ai-platforms/cloud-server-sub003/pkg/events/api"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/mfa"
	mfaapi "github.com/vritti-ai-platforms/cloud-server-sub003/pkg/mfa/api"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/notice"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/notification"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/passkey"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/tokengenerator"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/totp"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/twofactor"
	twofactorapi "github.com/vritti-ai-platforms/cloud-server-sub003/pkg/twofactor/api"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/verification"
	verificationapi "github.com/vritti-ai-platforms/cloud-server-sub003/pkg/verification/api"
)

type JwtConfig struct {
	Secret             string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer             string `env:"JWT_ISSUER" env-default:"vritti-cloud"`
	Audience           string `env:"JWT_AUDIENCE" env-default:"vritti-cloud-api"`
	CookieHttpOnly     bool   `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure       bool   `env:"COOKIE_SECURE" env-default:"true"`
	AccessTokenExpiry  string `env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshTokenExpiry string `env:"REFRESH_TOKEN_EXPIRY" env-default:"24h"`
	TempTokenExpiry    string `env:"TEMP_TOKEN_EXPIRY" env-default:"5m"`
}

type EmailConfig struct {
	Host     string `env:"EMAIL_HOST" env-default:"localhost"`
	Port     int    `env:"EMAIL_PORT" env-default:"1025"`
	Username string `env:"EMAIL_USERNAME" env-default:"noreply@example.com"`
	Password string `env:"EMAIL_PASSWORD" env-default:"pwd"`
	From     string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
}

type SmsGatewayConfig struct {
	URL   string `env:"SMS_GATEWAY_URL"`
	Token string `env:"SMS_GATEWAY_TOKEN"`
	From  string `env:"SMS_GATEWAY_FROM"`
}

type WhatsAppConfig struct {
	BusinessNumber string `env:"WHATSAPP_BUSINESS_NUMBER"`
	WebhookSecret  string `env:"WHATSAPP_WEBHOOK_SECRET"`
	VerifyToken    string `env:"WHATSAPP_VERIFY_TOKEN"`
}

type SmsInboundConfig struct {
	InboundNumber string `env:"SMS_INBOUND_NUMBER"`
	WebhookSecret string `env:"SMS_INBOUND_WEBHOOK_SECRET"`
	VerifyToken   string `env:"SMS_INBOUND_VERIFY_TOKEN"`
}

type WebAuthnConfig struct {
	RPID          string `env:"WEBAUTHN_RP_ID" env-default:"localhost"`
	RPDisplayName string `env:"WEBAUTHN_RP_DISPLAY_NAME" env-default:"Vritti Cloud"`
	RPOrigins     string `env:"WEBAUTHN_RP_ORIGINS" env-default:"http://localhost:3000"`
}

func (w WebAuthnConfig) origins() []string {
	parts := strings.Split(w.RPOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

type OtpConfig struct {
	CodeExpiry  string `env:"OTP_CODE_EXPIRY" env-default:"10m"`
	TokenExpiry string `env:"OTP_TOKEN_EXPIRY" env-default:"15m"`
	MaxAttempts int32  `env:"OTP_MAX_ATTEMPTS" env-default:"5"`
}

type Config struct {
	PersistenceType  string `env:"PERSISTENCE_TYPE" env-default:"postgres"`
	TotpIssuer       string `env:"TOTP_ISSUER" env-default:"Vritti Cloud"`
	MfaChallengeTTL  string `env:"MFA_CHALLENGE_TTL" env-default:"5m"`
	DbConfig         pkgconfig.DatabaseConfig
	AppConfig        app.AppConfig
	JwtConfig        JwtConfig
	EmailConfig      EmailConfig
	SmsGatewayConfig SmsGatewayConfig
	WhatsAppConfig   WhatsAppConfig
	SmsInboundConfig SmsInboundConfig
	WebAuthnConfig   WebAuthnConfig
	OtpConfig        OtpConfig
}

// loadEnvFile loads environment variables from .env file if it exists
// Only sets variables that are not already set in the environment
func loadEnvFile() {
	execPath, err := os.Executable()
	if err != nil {
		slog.Error("Failed to get executable path", "error", err)
		return
	}

	envFile := filepath.Join(filepath.Dir(execPath), ".env")

	// Also check current working directory
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		cwd, err := os.Getwd()
		if err != nil {
			slog.Error("Failed to get current working directory", "error", err)
			return
		}
		envFile = filepath.Join(cwd, ".env")
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return
	}

	slog.Info("Loading configuration from .env file", "path", envFile)
	if err := godotenv.Load(envFile); err != nil {
		slog.Error("Failed to load .env file", "error", err, "path", envFile)
	}
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration, using default", "value", value, "default", fallback)
		return fallback
	}
	return d
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	loadEnvFile()

	config := Config{}
	cleanenv.ReadEnv(&config)

	prefixConfig := pkgconfig.LoadPrefixConfig()
	if err := prefixConfig.Validate(); err != nil {
		slog.Error("Invalid prefix configuration", "error", err)
		os.Exit(-1)
	}

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)

	var pool *pgxpool.Pool
	if config.PersistenceType == "postgres" || config.PersistenceType == "postgresql" {
		dbConfig := config.DbConfig.ToDbConfig()
		var err error
		pool, err = dbutils.NewDbPool(context.Background(), dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
			os.Exit(-1)
		}
	}

	secretRepo, err := secrets.NewSecretRepository(config.PersistenceType, secrets.RepositoryConfig{Pool: pool})
	if err != nil {
		slog.Error("Failed creating secret repository", "error", err)
		os.Exit(-1)
	}
	contactRepo, err := verification.NewContactRepository(config.PersistenceType, verification.RepositoryConfig{Pool: pool})
	if err != nil {
		slog.Error("Failed creating contact repository", "error", err)
		os.Exit(-1)
	}
	twoFactorRepo, err := twofactor.NewConfigRepository(config.PersistenceType, twofactor.RepositoryConfig{Pool: pool})
	if err != nil {
		slog.Error("Failed creating two-factor repository", "error", err)
		os.Exit(-1)
	}

	secretService := secrets.NewService(secretRepo,
		secrets.WithOtpExpiry(parseDuration(config.OtpConfig.CodeExpiry, 10*time.Minute)),
		secrets.WithTokenExpiry(parseDuration(config.OtpConfig.TokenExpiry, 15*time.Minute)),
		secrets.WithMaxAttempts(config.OtpConfig.MaxAttempts),
	)

	notificationManager, err := notice.NewNotificationManager(
		notification.SMTPConfig{
			Host:     config.EmailConfig.Host,
			Port:     config.EmailConfig.Port,
			TLS:      config.EmailConfig.TLS,
			Username: config.EmailConfig.Username,
			Password: config.EmailConfig.Password,
			From:     config.EmailConfig.From,
		},
		notification.SMSGatewayConfig{
			URL:   config.SmsGatewayConfig.URL,
			Token: config.SmsGatewayConfig.Token,
			From:  config.SmsGatewayConfig.From,
		},
	)
	if err != nil {
		slog.Error("Failed creating notification manager", "error", err)
		os.Exit(-1)
	}

	channelFactory := channel.NewFactory(
		channel.NewWhatsAppProvider(channel.WhatsAppConfig{
			BusinessNumber: config.WhatsAppConfig.BusinessNumber,
			WebhookSecret:  config.WhatsAppConfig.WebhookSecret,
			VerifyToken:    config.WhatsAppConfig.VerifyToken,
		}),
		channel.NewSmsInboundProvider(channel.SmsInboundConfig{
			InboundNumber: config.SmsInboundConfig.InboundNumber,
			WebhookSecret: config.SmsInboundConfig.WebhookSecret,
			VerifyToken:   config.SmsInboundConfig.VerifyToken,
		}),
		channel.NewSmsOtpProvider(notificationManager, config.JwtConfig.Issuer),
		channel.NewEmailProvider(notificationManager, config.JwtConfig.Issuer),
	)

	hub := events.NewHub()
	verificationService := verification.NewService(secretService, channelFactory, contactRepo, hub)

	passkeyEngine, err := passkey.NewEngine(passkey.Config{
		RPID:          config.WebAuthnConfig.RPID,
		RPDisplayName: config.WebAuthnConfig.RPDisplayName,
		RPOrigins:     config.WebAuthnConfig.origins(),
	})
	if err != nil {
		slog.Error("Failed creating webauthn engine", "error", err)
		os.Exit(-1)
	}
	twoFactorService := twofactor.NewService(twoFactorRepo, totp.NewEngine(config.TotpIssuer), passkeyEngine)

	mfaStore := mfa.NewStore(parseDuration(config.MfaChallengeTTL, 5*time.Minute))
	defer mfaStore.Close()
	mfaService := mfa.NewService(mfaStore, twoFactorService, secretService, channelFactory, contactRepo)

	jwtService := tokengenerator.NewJwtService(
		config.JwtConfig.Secret,
		config.JwtConfig.Issuer,
		config.JwtConfig.Audience,
		tokengenerator.WithAccessTokenExpiry(parseDuration(config.JwtConfig.AccessTokenExpiry, tokengenerator.DefaultAccessTokenExpiry)),
		tokengenerator.WithRefreshTokenExpiry(parseDuration(config.JwtConfig.RefreshTokenExpiry, tokengenerator.DefaultRefreshTokenExpiry)),
		tokengenerator.WithTempTokenExpiry(parseDuration(config.JwtConfig.TempTokenExpiry, tokengenerator.DefaultTempTokenExpiry)),
		tokengenerator.WithCookieSetter(tokengenerator.NewCookieSetter(config.JwtConfig.CookieHttpOnly, config.JwtConfig.CookieSecure)),
	)
	auth := jwtauth.New("HS256", []byte(config.JwtConfig.Secret), nil)

	verificationHandler := verificationapi.NewHandler(verificationService, channelFactory)
	mfaHandler := mfaapi.NewHandler(mfaService, jwtService)
	twoFactorHandler := twofactorapi.NewHandler(twoFactorService)
	eventsHandler := eventsapi.NewHandler(hub, verificationService)

	// webhook endpoints are authenticated by provider signatures, not JWTs
	server.R.Route(prefixConfig.Webhook, verificationHandler.WebhookRoutes)

	server.R.Route(prefixConfig.Verification, func(r chi.Router) {
		r.Use(jwtauth.Verifier(auth))
		r.Use(jwtauth.Authenticator(auth))
		verificationHandler.Routes(r)
	})

	server.R.Route(prefixConfig.Mfa, func(r chi.Router) {
		mfaHandler.Routes(r, auth)
	})

	server.R.Route(prefixConfig.TwoFA, func(r chi.Router) {
		r.Use(jwtauth.Verifier(auth))
		r.Use(jwtauth.Authenticator(auth))
		twoFactorHandler.Routes(r)
	})

	// EventSource cannot set headers, so the SSE route also accepts the
	// token from the query string
	server.R.Route(prefixConfig.Events, func(r chi.Router) {
		r.Use(jwtauth.Verify(auth, jwtauth.TokenFromQuery, jwtauth.TokenFromHeader))
		r.Use(jwtauth.Authenticator(auth))
		eventsHandler.Routes(r)
	})

	go sweepExpiredSecrets(context.Background(), secretService)

	slog.Info("Starting server",
		"verification", prefixConfig.Verification,
		"webhook", prefixConfig.Webhook,
		"mfa", prefixConfig.Mfa,
		"2fa", prefixConfig.TwoFA,
		"events", prefixConfig.Events)

	server.Run()
}

// sweepExpiredSecrets periodically removes expired verification records so
// abandoned attempts do not accumulate.
func sweepExpiredSecrets(ctx context.Context, service *secrets.Service) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := service.SweepExpired(ctx)
			if err != nil {
				slog.Error("Failed sweeping expired records", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("Swept expired verification records", "count", removed)
			}
		}
	}
}
