package server

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"

	"phone-vault/backend/internal/account"
	claimservice "phone-vault/backend/internal/claim/service"
	otpservice "phone-vault/backend/internal/otp/service"
	registration "phone-vault/backend/internal/registration/service"
	"phone-vault/backend/internal/relay"
	"phone-vault/backend/internal/starknet"
)

// mapError translates service sentinel errors into HTTP statuses. Validation
// errors are 4xx and never retried; state conflicts are terminal; chain
// rejections are forwarded verbatim; transient exhaustion is 5xx so callers
// may retry.
func mapError(c *gin.Context, err error) {
	var ce *starknet.ChainError
	switch {
	case errors.Is(err, account.ErrInvalidPhoneNumber),
		errors.Is(err, account.ErrPhoneNumberTooLong),
		errors.Is(err, claimservice.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, otpservice.ErrInvalidCode),
		errors.Is(err, otpservice.ErrNoActiveChallenge):
		c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
	case errors.Is(err, otpservice.ErrAttemptsExhausted):
		c.JSON(http.StatusTooManyRequests, gin.H{"message": err.Error()})
	case errors.Is(err, claimservice.ErrTokenNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case errors.Is(err, claimservice.ErrTokenExpired):
		c.JSON(http.StatusGone, gin.H{"message": err.Error()})
	case errors.Is(err, claimservice.ErrAlreadyClaimed),
		errors.Is(err, registration.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case errors.Is(err, claimservice.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"message": err.Error()})
	case errors.As(err, &ce):
		// Chain-authoritative rejection, forwarded without reinterpretation.
		c.JSON(http.StatusBadRequest, gin.H{"message": ce.Message, "code": ce.Code})
	case errors.Is(err, otpservice.ErrDeliveryFailed),
		errors.Is(err, claimservice.ErrClaimTransferFailed),
		errors.Is(err, registration.ErrDeploymentFailed):
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
	case errors.Is(err, relay.ErrEstimationFailed),
		errors.Is(err, relay.ErrNonceRaceExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}

type getOTPRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
}

func handleGetOTP(svc OTPService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req getOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		if _, err := svc.Issue(c.Request.Context(), req.PhoneNumber); err != nil {
			mapError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	SentOTP     string `json:"sent_otp" binding:"required"`
	PublicKey   string `json:"public_key" binding:"required"`
}

func handleVerifyOTP(svc RegistrationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		addr, err := svc.Register(c.Request.Context(), req.PhoneNumber, req.SentOTP, req.PublicKey)
		if err != nil {
			mapError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"contract_address": addr.Hex()})
	}
}

func handleGetUser(svc RegistrationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		phone := c.Query("phone_number")
		u, err := svc.Lookup(c.Request.Context(), phone)
		if err != nil {
			mapError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"phone_number":     u.Phone,
			"contract_address": u.Address,
			"status":           string(u.Status),
		})
	}
}

type generateClaimLinkRequest struct {
	PhoneNumber string   `json:"phone_number" binding:"required"`
	Amount      string   `json:"amount" binding:"required"`
	Nonce       string   `json:"nonce" binding:"required"`
	Signature   []string `json:"signature" binding:"required"`
}

func handleGenerateClaimLink(svc ClaimService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generateClaimLinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"message": "amount must be a decimal integer"})
			return
		}
		nonce, ok := new(big.Int).SetString(req.Nonce, 10)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"message": "nonce must be a decimal integer"})
			return
		}
		auth := relay.OutsideAuth{Nonce: nonce, Signature: req.Signature}
		token, err := svc.Create(c.Request.Context(), req.PhoneNumber, amount, auth)
		if err != nil {
			mapError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"claim_token": token})
	}
}

type claimRequest struct {
	ClaimToken  string `json:"claim_token" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

func handleClaim(svc ClaimService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req claimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		addr, err := svc.Redeem(c.Request.Context(), req.ClaimToken, req.PhoneNumber)
		if err != nil {
			mapError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"recipient_address": addr.Hex()})
	}
}

func handleClaimStatus(svc ClaimService) gin.HandlerFunc {
	return func(c *gin.Context) {
		link, err := svc.Status(c.Request.Context(), c.Query("claim_token"))
		if err != nil {
			mapError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"claimed":    link.Claimed,
			"amount":     link.Amount.String(),
			"expires_at": link.ExpiresAt,
		})
	}
}

type outsideCall struct {
	ContractAddress string   `json:"contract_address" binding:"required"`
	EntryPoint      string   `json:"entry_point" binding:"required"`
	Calldata        []string `json:"calldata"`
}

type executeFromOutsideRequest struct {
	Address   string        `json:"address" binding:"required"`
	Nonce     string        `json:"nonce" binding:"required"`
	Calls     []outsideCall `json:"calls" binding:"required,min=1"`
	Signature []string      `json:"signature" binding:"required"`
}

func handleExecuteFromOutside(svc RelayService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req executeFromOutsideRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		onBehalfOf, err := starknet.FeltFromHex(req.Address)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		nonce, ok := new(big.Int).SetString(req.Nonce, 10)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"message": "nonce must be a decimal integer"})
			return
		}
		calls := make([]starknet.Call, 0, len(req.Calls))
		for _, rc := range req.Calls {
			to, err := starknet.FeltFromHex(rc.ContractAddress)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
				return
			}
			calldata := make([]starknet.Felt, 0, len(rc.Calldata))
			for _, d := range rc.Calldata {
				f, err := starknet.FeltFromHex(d)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
					return
				}
				calldata = append(calldata, f)
			}
			calls = append(calls, starknet.Call{
				To:       to,
				Selector: starknet.SelectorFromName(rc.EntryPoint),
				Calldata: calldata,
			})
		}
		hash, err := svc.Submit(c.Request.Context(), calls, &relay.SubmitOptions{
			OnBehalfOf: onBehalfOf,
			Auth:       relay.OutsideAuth{Nonce: nonce, Signature: req.Signature},
		})
		if err != nil {
			mapError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction_hash": hash})
	}
}

func handleTransactionStatus(svc RelayService) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := svc.Status(c.Request.Context(), c.Query("tx_hash"))
		if err != nil {
			mapError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": string(status)})
	}
}
