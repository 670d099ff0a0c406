package capability

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arbitra-ai/oversight/pkg/apiresponses"
	"github.com/arbitra-ai/oversight/pkg/metrics"
	"github.com/arbitra-ai/oversight/pkg/system"
)

// TokenController exposes the token authority over HTTP.
type TokenController struct {
	authority  *Authority
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
}

// NewTokenController constructs the controller. The middleware chain (auth,
// rate limiting) is applied to every route in the group.
func NewTokenController(log *zap.SugaredLogger, authority *Authority, middleware ...gin.HandlerFunc) *TokenController {
	return &TokenController{
		authority:  authority,
		log:        log,
		middleware: middleware,
	}
}

func (tc *TokenController) BasePath() string {
	return "tokens"
}

func (tc *TokenController) Handlers() []gin.HandlerFunc {
	return tc.middleware
}

func (tc *TokenController) Register(rg *gin.RouterGroup) error {
	rg.POST("", tc.handleMint)
	rg.POST("/verify", tc.handleVerify)
	rg.POST("/can-perform", tc.handleCanPerform)
	rg.POST("/revoke", tc.handleRevoke)
	return nil
}

// MintResponse carries the minted token string.
type MintResponse struct {
	Token string `json:"token"`
}

func (tc *TokenController) handleMint(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tokens_mint").Inc()
	log := system.GetReqLogger(c, tc.log)

	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tokens_mint", "400").Inc()
		apiresponses.RespondBadRequest(c, "invalid mint request: "+err.Error())
		return
	}

	tokenString, err := tc.authority.Mint(c.Request.Context(), req)
	if err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tokens_mint", "400").Inc()
		log.Warnw("Token mint rejected", "tool", req.ToolID, "caller", req.Caller, "error", err)
		apiresponses.RespondBadRequest(c, err.Error())
		return
	}
	apiresponses.RespondCreated(c, MintResponse{Token: tokenString})
}

// TokenStringRequest carries a token string for verify and revoke.
type TokenStringRequest struct {
	Token string `json:"token" binding:"required"`
}

// VerifyResponse reports the verification outcome. Payload is only present
// for valid tokens.
type VerifyResponse struct {
	Valid   bool   `json:"valid"`
	Payload *Token `json:"payload,omitempty"`
}

func (tc *TokenController) handleVerify(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tokens_verify").Inc()

	var req TokenStringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tokens_verify", "400").Inc()
		apiresponses.RespondBadRequest(c, "invalid verify request: "+err.Error())
		return
	}

	token := tc.authority.Verify(c.Request.Context(), req.Token)
	apiresponses.RespondOK(c, VerifyResponse{Valid: token != nil, Payload: token})
}

// CanPerformRequest asks whether a token permits an action on a tool.
type CanPerformRequest struct {
	Token  string `json:"token" binding:"required"`
	ToolID string `json:"tool_id" binding:"required"`
	Action string `json:"action" binding:"required"`
}

// CanPerformResponse reports the authorization decision.
type CanPerformResponse struct {
	Allowed bool `json:"allowed"`
}

func (tc *TokenController) handleCanPerform(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tokens_can_perform").Inc()

	var req CanPerformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tokens_can_perform", "400").Inc()
		apiresponses.RespondBadRequest(c, "invalid can-perform request: "+err.Error())
		return
	}

	allowed := tc.authority.CanPerformAction(c.Request.Context(), req.Token, req.ToolID, req.Action)
	apiresponses.RespondOK(c, CanPerformResponse{Allowed: allowed})
}

func (tc *TokenController) handleRevoke(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tokens_revoke").Inc()

	var req TokenStringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tokens_revoke", "400").Inc()
		apiresponses.RespondBadRequest(c, "invalid revoke request: "+err.Error())
		return
	}

	tc.authority.Revoke(c.Request.Context(), req.Token)
	apiresponses.RespondOK(c, gin.H{"revoked": true})
}
