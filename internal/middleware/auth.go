// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/token"
)

// ClaimsKey 是认证通过后 claims 在 gin.Context 中的键。
const ClaimsKey = "claims"

// AuthMiddleware 创建一个 Gin 中间件，用于服务令牌认证。
// token 优先从 Authorization 请求头读取；浏览器无法为 WebSocket 设置请求头，
// 所以也接受 token 查询参数。allowedSubject 非空时只放行该调用方。
func AuthMiddleware(jwtManager *token.JWTManager, allowedSubject string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "detail": "Missing or malformed token"})
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[Auth] token 校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "detail": "Invalid or expired token"})
			return
		}
		if allowedSubject != "" && claims.Subject != allowedSubject {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "detail": "Caller not allowed"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			return "", false
		}
		t := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
		return t, t != ""
	}
	if t := c.Query("token"); t != "" {
		return t, true
	}
	return "", false
}
