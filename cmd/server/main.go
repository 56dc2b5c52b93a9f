package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	accountpkg "phone-vault/backend/internal/account"
	claimrepo "phone-vault/backend/internal/claim/repository"
	claimservice "phone-vault/backend/internal/claim/service"
	"phone-vault/backend/internal/config"
	"phone-vault/backend/internal/db"
	"phone-vault/backend/internal/devotp"
	otprepo "phone-vault/backend/internal/otp/repository"
	otpservice "phone-vault/backend/internal/otp/service"
	"phone-vault/backend/internal/otp/sms"
	registration "phone-vault/backend/internal/registration/service"
	"phone-vault/backend/internal/relay"
	relayrepo "phone-vault/backend/internal/relay/repository"
	"phone-vault/backend/internal/server"
	"phone-vault/backend/internal/starknet"
	"phone-vault/backend/internal/telemetry/otel"
	userrepo "phone-vault/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "phone-vault-backend", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	relayer, err := starknet.FeltFromHex(cfg.RelayerAddress)
	if err != nil {
		log.Fatalf("relayer address: %v", err)
	}
	factoryAddr, err := starknet.FeltFromHex(cfg.FactoryAddress)
	if err != nil {
		log.Fatalf("factory address: %v", err)
	}
	token, err := starknet.FeltFromHex(cfg.TokenAddress)
	if err != nil {
		log.Fatalf("token address: %v", err)
	}
	chainID, err := starknet.FeltFromShortString(cfg.ChainID)
	if err != nil {
		log.Fatalf("chain id: %v", err)
	}
	signer, err := relay.NewP256Signer(cfg.RelayerPrivateKey)
	if err != nil {
		log.Fatalf("relayer key: %v", err)
	}

	deriver, err := accountpkg.NewDeriver(cfg.FactoryAddress, cfg.AccountClassHash)
	if err != nil {
		log.Fatalf("deriver: %v", err)
	}

	chain := starknet.NewClient(cfg.ChainRPCURL)
	executor := relay.NewExecutor(chain, relayrepo.NewPostgresNonceStore(database), signer, relayer, chainID, cfg.MaxFeeInt())
	escrow := relay.NewEscrowPool(executor, token, relayer)
	factory := relay.NewFactory(executor, factoryAddr)

	var devStore devotp.Store
	var sender otpservice.Sender = sms.NewClient(cfg.SMSAPIKey, cfg.SMSBaseURL, cfg.SMSSender)
	if cfg.OTPReturnToClient {
		devStore = devotp.NewMemoryStore()
		sender = noopSender{}
	}

	otpSvc := otpservice.NewChallengeService(otprepo.NewPostgresRepository(database), sender, devStore)
	regSvc := registration.NewService(userrepo.NewPostgresRepository(database), otpSvc, deriver, factory)
	claimSvc := claimservice.NewRegistry(claimrepo.NewPostgresRepository(database), deriver, escrow)

	router := server.NewRouter(server.Deps{
		DB:           database,
		OTP:          otpSvc,
		Registration: regSvc,
		Claims:       claimSvc,
		Relay:        executor,
		DevOTP:       devStore,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownBudget())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}

// noopSender replaces the SMS provider in dev OTP mode; codes are read back
// through GET /dev/otp instead.
type noopSender struct{}

func (noopSender) SendCode(ctx context.Context, phone, code string) error { return nil }
