package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/users"
)

// AuthHandler serves the unauthenticated /auth routes.
type AuthHandler struct {
	users  *users.Service
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc *users.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: svc, logger: logger}
}

// Register mounts all auth routes on the provided router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/register", h.SignUp)
		auth.POST("/login", h.Login)
		auth.GET("/google", h.GoogleURL)
		auth.POST("/oauth-success", h.OAuthSuccess)
		auth.POST("/forgot-password", h.ForgotPassword)
		auth.POST("/reset-password", h.ResetPassword)
		auth.POST("/retrieve-key", h.RetrieveKey)
	}
}

// ─── Request types ───────────────────────────────────────────────────────────

type registerRequest struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"     binding:"required"`
}

type credentialRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password"   binding:"required"`
}

type oauthSuccessRequest struct {
	AppwriteJWT string `json:"appwriteJwt"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	UserID   string `json:"userId"   binding:"required"`
	Secret   string `json:"secret"   binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// SignUp handles POST /auth/register.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	userID, err := h.users.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		respondError(c, h.logger, "register", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Registration Successful", "userId": userID})
}

// Login handles POST /auth/login with an email or mobile identifier.
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	sess, err := h.users.Login(c.Request.Context(), req.Identifier, req.Password)
	recordLogin("password", err)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": loginNotFoundMessage(req.Identifier)})
			return
		}
		respondError(c, h.logger, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Login OK", "token": sess.Token, "userId": sess.UserID})
}

// loginNotFoundMessage names the identifier kind the login was attempted with.
func loginNotFoundMessage(identifier string) string {
	if id, err := users.ParseLoginID(identifier); err == nil && id.Kind == users.LoginEmail {
		return "User not found with this email"
	}
	return "User not found with this mobile"
}

// GoogleURL handles GET /auth/google and returns the provider redirect URL.
func (h *AuthHandler) GoogleURL(c *gin.Context) {
	u, err := h.users.OAuthURL("google")
	if err != nil {
		respondError(c, h.logger, "oauth url", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirectUrl": u})
}

// OAuthSuccess handles POST /auth/oauth-success, exchanging a provider
// assertion for a session token.
func (h *AuthHandler) OAuthSuccess(c *gin.Context) {
	var req oauthSuccessRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AppwriteJWT == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No JWT provided"})
		return
	}

	sess, err := h.users.OAuthExchange(c.Request.Context(), req.AppwriteJWT)
	recordLogin("oauth", err)
	if err != nil {
		if errors.Is(err, users.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication Failed"})
			return
		}
		respondError(c, h.logger, "oauth exchange", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OAuth Login Success", "token": sess.Token, "userId": sess.UserID})
}

// ForgotPassword handles POST /auth/forgot-password. The response is the
// same whether or not the email is registered.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if err := h.users.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.logger.Error("forgot password", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send link"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Recovery link sent"})
}

// ResetPassword handles POST /auth/reset-password with the secret from a
// recovery link.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if err := h.users.ResetPassword(c.Request.Context(), req.UserID, req.Secret, req.Password); err != nil {
		if errors.Is(err, users.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired recovery link"})
			return
		}
		respondError(c, h.logger, "reset password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password Reset"})
}

// RetrieveKey handles POST /auth/retrieve-key, returning the caller's API key
// after a password check.
func (h *AuthHandler) RetrieveKey(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	key, err := h.users.RetrieveKey(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Wrong Password"})
			return
		}
		respondError(c, h.logger, "retrieve key", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "user_api_key": key})
}
