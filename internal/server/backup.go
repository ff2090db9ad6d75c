package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	membershipservice "github.com/smallbiznis/fitdesk/internal/membership/service"
)

const (
	contentTypeSnappy = "application/x-snappy"
	maxBackupBytes    = 64 << 20
)

// ExportBackup serves the backup document, snappy framed when the client
// asks for application/x-snappy or passes compressed=true.
func (s *Server) ExportBackup(c *gin.Context) {
	compressed, err := parseOptionalBool(c.Query("compressed"))
	if err != nil {
		AbortWithError(c, newValidationError("compressed", "invalid_compressed", "invalid compressed"))
		return
	}
	snappy := strings.Contains(c.GetHeader("Accept"), contentTypeSnappy) || (compressed != nil && *compressed)

	backup, err := s.members.ExportBackup(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := membershipservice.EncodeBackup(&buf, backup, snappy); err != nil {
		AbortWithError(c, err)
		return
	}

	contentType, ext := "application/json", "json"
	if snappy {
		contentType, ext = contentTypeSnappy, "json.sz"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"fitdesk-backup-%s.%s\"", backup.Timestamp.UTC().Format("20060102-150405"), ext))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// RestoreBackup accepts a plain or snappy framed document.
func (s *Server) RestoreBackup(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBackupBytes+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(body) > maxBackupBytes {
		AbortWithError(c, newValidationError("body", "backup_too_large", "backup exceeds the size limit"))
		return
	}

	backup, err := membershipservice.DecodeBackup(body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.members.RestoreBackup(c.Request.Context(), backup)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
