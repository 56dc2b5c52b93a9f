// Package server wires the HTTP surface consumed by the mobile front-end:
// OTP issuance and verification, claim links, relayed execution, and status.
package server

import (
	"context"
	"database/sql"
	"math/big"

	"github.com/gin-gonic/gin"

	claimdomain "phone-vault/backend/internal/claim/domain"
	"phone-vault/backend/internal/devotp"
	"phone-vault/backend/internal/relay"
	"phone-vault/backend/internal/starknet"
	userdomain "phone-vault/backend/internal/user/domain"
)

// OTPService is the OTP capability the handlers consume.
type OTPService interface {
	Issue(ctx context.Context, phone string) (string, error)
	Verify(ctx context.Context, phone, code string) error
}

// RegistrationService verifies an OTP and deploys the phone's account.
type RegistrationService interface {
	Register(ctx context.Context, phone, code, publicKeyHex string) (starknet.Felt, error)
	Lookup(ctx context.Context, phone string) (*userdomain.User, error)
}

// ClaimService issues and redeems claim links.
type ClaimService interface {
	Create(ctx context.Context, creatorPhone string, amount *big.Int, auth relay.OutsideAuth) (string, error)
	Redeem(ctx context.Context, token, recipientPhone string) (starknet.Felt, error)
	Status(ctx context.Context, token string) (*claimdomain.ClaimLink, error)
}

// RelayService submits relayed calls and reports their status.
type RelayService interface {
	Submit(ctx context.Context, calls []starknet.Call, opts *relay.SubmitOptions) (string, error)
	Status(ctx context.Context, txHash string) (starknet.TxStatus, error)
}

// Deps holds everything the router needs. DevOTP is nil unless dev OTP mode
// is enabled.
type Deps struct {
	DB           *sql.DB
	OTP          OTPService
	Registration RegistrationService
	Claims       ClaimService
	Relay        RelayService
	DevOTP       devotp.Store
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), Telemetry("phone-vault-backend"))

	engine.GET("/status", handleStatus(deps.DB))
	engine.GET("/get_user", handleGetUser(deps.Registration))

	engine.POST("/get_otp", handleGetOTP(deps.OTP))
	engine.POST("/verify_otp", handleVerifyOTP(deps.Registration))

	engine.POST("/generate_claim_link", handleGenerateClaimLink(deps.Claims))
	engine.POST("/claim", handleClaim(deps.Claims))
	engine.GET("/get_claim_status", handleClaimStatus(deps.Claims))

	engine.POST("/execute_from_outside", handleExecuteFromOutside(deps.Relay))
	engine.GET("/get_transaction_status", handleTransactionStatus(deps.Relay))

	if deps.DevOTP != nil {
		engine.GET("/dev/otp", handleDevOTP(deps.DevOTP))
	}

	return engine
}

// handleStatus reports liveness by checking that the database is reachable.
func handleStatus(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				c.JSON(503, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(200, gin.H{"status": "OK"})
	}
}

func handleDevOTP(store devotp.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		phone := c.Query("phone_number")
		code, ok := store.Get(c.Request.Context(), phone)
		if !ok {
			c.JSON(404, gin.H{"message": "no active code"})
			return
		}
		c.JSON(200, gin.H{"otp": code})
	}
}
