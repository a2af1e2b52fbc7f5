package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// authMiddleware проверяет токен редактора в заголовке Authorization
func (rs *RestServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Получаем Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			rs.fail(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			return
		}

		// Проверяем формат "Bearer <token>"
		token, ok := bearerToken(authHeader)
		if !ok {
			rs.fail(c, http.StatusUnauthorized, "Неверный формат токена")
			return
		}

		claims, err := rs.tokens.Validate(token)
		if err != nil {
			rs.logger.Debug("Отклонён токен: %v", err)
			rs.fail(c, http.StatusUnauthorized, "Недействительный токен")
			return
		}

		c.Set(editorKey, claims.Editor)
		c.Next()
	}
}
