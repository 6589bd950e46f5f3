package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bitbucket.org/dukalink/shop_backend/config"
	"bitbucket.org/dukalink/shop_backend/mpesa"
	"bitbucket.org/dukalink/shop_backend/utils"
	"bitbucket.org/dukalink/shop_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// callbackAck is the fixed body every callback delivery receives, valid or
// not. Any other shape makes the gateway re-deliver or flag the URL.
var callbackAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

// writeGatewayError maps provider failures onto HTTP statuses. Gateway-side
// trouble (auth, rejection, timeout) is a 502 with enough detail for support;
// caller mistakes are 400.
func writeGatewayError(c *gin.Context, err error) {
	var authErr *mpesa.AuthError
	var reqErr *mpesa.RequestError
	var timeoutErr *mpesa.TimeoutError
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, mpesa.ErrInvalidPhone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
	case errors.Is(err, mpesa.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be at least 1"})
	case errors.As(err, &authErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway authentication failed", "detail": authErr.Error()})
	case errors.As(err, &reqErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway rejected the request", "detail": reqErr.Error()})
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway timed out", "detail": timeoutErr.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment initiation failed"})
	}
}

func initiateMpesaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var in workflow.InitiateMpesaInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		result, err := getEngine().payments.InitiateMpesa(c.Request.Context(), in)
		if err != nil {
			writeGatewayError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func mpesaCallbackHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		// The ack never varies; all processing failures are log-only.
		defer c.JSON(http.StatusOK, callbackAck)

		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.WithFields(logrus.Fields{"module": "handlers"}).Error("callback body read failed: " + err.Error())
			return
		}

		var env mpesa.CallbackEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.WithFields(logrus.Fields{"module": "handlers"}).Error("callback payload unparseable: " + err.Error())
			return
		}

		if err := getEngine().reconciler.ApplyCallback(c.Request.Context(), env, raw); err != nil {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"module":              "handlers",
				"checkout_request_id": env.Body.StkCallback.CheckoutRequestID,
				"correlation_id":      cid,
			}).Error("callback reconciliation failed: " + err.Error())
		}
	}
}

type mpesaQueryInput struct {
	CheckoutRequestId string `json:"checkout_request_id" binding:"required"`
}

func mpesaQueryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var in mpesaQueryInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		result, err := getEngine().payments.QueryMpesa(c.Request.Context(), in.CheckoutRequestId)
		if err != nil {
			writeGatewayError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"result_code": result.ResultCode,
			"result_desc": result.ResultDesc,
			"succeeded":   result.ResultCode == 0,
		})
	}
}

func transactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email, ok := utils.GetUserEmailFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		identity := c.Param("identity")
		isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
		if !isAdmin && identity != email {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		txs, err := getEngine().store.TransactionsByIdentifier(c.Request.Context(), identity)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs})
	}
}

func cardInitiateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email, ok := utils.GetUserEmailFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var in workflow.InitiateCardInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		if in.Email == "" {
			in.Email = email
		}

		checkout, err := getEngine().payments.InitiateCard(c.Request.Context(), in)
		if err != nil {
			writeGatewayError(c, err)
			return
		}
		c.JSON(http.StatusOK, checkout)
	}
}

type cardVerifyInput struct {
	Reference string `json:"reference" binding:"required"`
}

func cardVerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in cardVerifyInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		reference := in.Reference

		email, _ := utils.GetUserEmailFromContext(c.Request.Context())
		result, err := getEngine().payments.VerifyCard(c.Request.Context(), reference, email)
		if err != nil {
			writeGatewayError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reference": reference,
			"succeeded": result.Succeeded,
			"amount":    result.Amount,
		})
	}
}
