package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/qcom/portal/internal/billpay"
	"github.com/qcom/portal/internal/config"
	"github.com/qcom/portal/internal/handlers"
	"github.com/qcom/portal/internal/middleware"
	"github.com/qcom/portal/internal/repository"
	"github.com/qcom/portal/internal/service"
	"github.com/qcom/portal/internal/session"
	"github.com/qcom/portal/internal/sms"
	"github.com/qcom/portal/internal/validator"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	redisClient, err := initRedis(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Redis")
	}
	defer redisClient.Close()

	// Repositories
	table := cfg.DynamoDB.TableName
	userRepo := repository.NewUserRepository(dynamoClient, table, logger)
	accountRepo := repository.NewAccountRepository(dynamoClient, table, logger)
	billRepo := repository.NewBillRepository(dynamoClient, table, logger)
	paymentRepo := repository.NewPaymentRepository(dynamoClient, table, accountRepo, billRepo, logger)

	// Services
	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	validationService := service.NewValidationService(redisClient, newSMSSender(cfg, logger), &cfg.OTP, logger)
	refreshTokenService := service.NewRefreshTokenService(redisClient, logger)
	billService := service.NewBillService(billRepo, paymentRepo, logger)
	accountService := service.NewAccountService(accountRepo)

	sessions := session.NewManager(redisClient, session.Services{
		Validation: validationService,
		Bills:      func(phone string) billpay.BillService { return billService.For(phone) },
		Accounts:   func(phone string) billpay.AccountService { return accountService.For(phone) },
	}, refreshTokenService, cfg.Session, logger)

	v, err := validator.New()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize validator")
	}

	authHandlers := handlers.NewAuthHandlers(
		validationService,
		jwtService,
		refreshTokenService,
		userRepo,
		sessions,
		v,
		logger,
	)
	billHandlers := handlers.NewBillHandlers(billService, v, logger)
	otpHandlers := handlers.NewOTPHandlers(v, logger)
	sessionHandlers := handlers.NewSessionHandlers(v, logger)

	authMiddleware := middleware.NewAuthMiddleware(jwtService, sessions, cfg.Session.LoginRoute, logger)
	router := setupRouter(routes{
		auth:    authHandlers,
		bills:   billHandlers,
		otp:     otpHandlers,
		session: sessionHandlers,
		redis:   redisClient,
		authMW:  authMiddleware,
		logger:  logger,
		origins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	sessions.Shutdown()

	logger.Info("Server exited")
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func initRedis(cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Redis.Endpoint, err)
	}
	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}

// newSMSSender falls back to logging messages when no gateway key is set.
func newSMSSender(cfg *config.Config, logger *logrus.Logger) sms.Sender {
	if cfg.SMS.APIKey == "" {
		logger.Warn("SMS_API_KEY not set, SMS messages will only be logged")
		return sms.NewLogSender(logger)
	}
	return sms.NewHTTPSender(cfg.SMS.APIKey, cfg.SMS.BaseURL, cfg.SMS.Sender)
}

type routes struct {
	auth    *handlers.AuthHandlers
	bills   *handlers.BillHandlers
	otp     *handlers.OTPHandlers
	session *handlers.SessionHandlers
	redis   *redis.Client
	authMW  *middleware.AuthMiddleware
	logger  *logrus.Logger
	origins []string
}

func setupRouter(rt routes) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Logging(rt.logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.redis.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/initiate-otp", rt.auth.InitiateOTP).Methods(http.MethodPost)
	auth.HandleFunc("/verify-otp", rt.auth.VerifyOTP).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", rt.auth.RefreshToken).Methods(http.MethodPost)
	auth.Handle("/logout", rt.authMW.RequireAuth(http.HandlerFunc(rt.auth.Logout))).Methods(http.MethodPost)

	protected := api.NewRoute().Subrouter()
	protected.Use(rt.authMW.RequireAuth)
	protected.HandleFunc("/me", rt.auth.Me).Methods(http.MethodGet)

	protected.HandleFunc("/accounts", rt.bills.ListAccounts).Methods(http.MethodGet)
	protected.HandleFunc("/bills", rt.bills.ListBills).Methods(http.MethodGet)
	protected.HandleFunc("/dashboard", rt.bills.Dashboard).Methods(http.MethodGet)
	protected.HandleFunc("/payments", rt.bills.ListPayments).Methods(http.MethodGet)
	protected.HandleFunc("/payments/pending", rt.bills.PendingPayment).Methods(http.MethodGet)
	protected.HandleFunc("/bills/{billID}/pay", rt.bills.PayBill).Methods(http.MethodPost)
	protected.HandleFunc("/vignettes/pay", rt.bills.PayVignette).Methods(http.MethodPost)

	protected.HandleFunc("/otp", rt.otp.Prompt).Methods(http.MethodGet)
	protected.HandleFunc("/otp/keys", rt.otp.Keys).Methods(http.MethodPost)
	protected.HandleFunc("/otp/keys", rt.otp.Backspace).Methods(http.MethodDelete)
	protected.HandleFunc("/otp/submit", rt.otp.Submit).Methods(http.MethodPost)
	protected.HandleFunc("/otp/close", rt.otp.Close).Methods(http.MethodPost)

	protected.HandleFunc("/session/activity", rt.session.Activity).Methods(http.MethodPost)
	protected.HandleFunc("/notifications", rt.session.Notifications).Methods(http.MethodGet)

	// CORS wraps the router so preflight requests never reach route matching
	return middleware.CORS(rt.origins)(router)
}
