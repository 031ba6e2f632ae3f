package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/lolify/internal/models"
	"github.com/ifuryst/lolify/internal/service"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxWebhookBody  = 1 << 20
)

func (s *Server) handleVerify(c *gin.Context) {
	challenge, ok := s.App.Dispatcher.Verify(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if !ok {
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, challenge)
}

func (s *Server) handleEvent(c *gin.Context) {
	var event models.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		s.Logger.Warn("Malformed webhook payload", zap.Error(err))
		c.String(http.StatusBadRequest, "invalid payload")
		return
	}

	outcome, err := s.App.Dispatcher.HandleEvent(c.Request.Context(), &event)
	if err != nil {
		if errors.Is(err, service.ErrQueueFull) {
			s.Logger.Warn("Publish queue full, asking for redelivery")
			c.String(http.StatusServiceUnavailable, "busy")
			return
		}
		s.Logger.Error("Failed to handle webhook event", zap.Error(err))
		c.String(http.StatusInternalServerError, "error")
		return
	}

	c.String(http.StatusOK, string(outcome))
}

// signatureMiddleware checks X-Hub-Signature-256 against the app secret.
// Without a configured secret every request passes.
func (s *Server) signatureMiddleware() gin.HandlerFunc {
	secret := s.Config.Meta.AppSecret
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !validSignature(secret, body, c.GetHeader(signatureHeader)) {
			s.Logger.Warn("Webhook event rejected: invalid signature")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// validSignature expects header in the form "sha256=<hex hmac>".
func validSignature(secret string, body []byte, header string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || hexSig == "" {
		return false
	}
	received, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}
