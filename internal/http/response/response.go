// Package response is the JSON envelope helpers, adapted from the
// teacher's internal/http/response package to spec.md §6's error
// policy: 422 with a message body only in development mode, empty body
// otherwise.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/pipeline-orchestrator/internal/config"
)

type errorBody struct {
	Message string `json:"message"`
}

// RespondValidationError implements spec.md §6: 422 with a message body
// only when env is dev; an empty body in main.
func RespondValidationError(c *gin.Context, env config.Environment, err error) {
	if env == config.EnvMain {
		c.Status(http.StatusUnprocessableEntity)
		return
	}
	msg := "validation failed"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(http.StatusUnprocessableEntity, errorBody{Message: msg})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondNotFound(c *gin.Context, env config.Environment, err error) {
	if env == config.EnvMain {
		c.Status(http.StatusNotFound)
		return
	}
	msg := "not found"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(http.StatusNotFound, errorBody{Message: msg})
}

func RespondInternalError(c *gin.Context, env config.Environment, err error) {
	if env == config.EnvMain {
		c.Status(http.StatusInternalServerError)
		return
	}
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(http.StatusInternalServerError, errorBody{Message: msg})
}
