package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxSettingBytes = 64 << 10

func (s *Server) GetSetting(c *gin.Context) {
	setting, err := s.members.GetSetting(c.Request.Context(), strings.TrimSpace(c.Param("key")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": setting})
}

// PutSetting stores the raw JSON body as the setting value.
func (s *Server) PutSetting(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSettingBytes+1))
	if err != nil || len(body) > maxSettingBytes || !json.Valid(body) {
		AbortWithError(c, newValidationError("value", "invalid_setting", "value must be a JSON document"))
		return
	}

	setting, err := s.members.PutSetting(c.Request.Context(), strings.TrimSpace(c.Param("key")), json.RawMessage(body))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": setting})
}
