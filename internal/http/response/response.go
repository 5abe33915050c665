package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/archivolt/mnemos/internal/platform/apierr"
)

// OK writes a success envelope.
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

// Fail maps an error onto an HTTP status. apierr carries its own status;
// gorm's not-found becomes 404; everything else is a 500 with the detail
// kept out of the body.
func Fail(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		c.JSON(ae.Status, gin.H{"error": gin.H{"code": ae.Code, "message": ae.Error()}})
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "resource not found"}})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "internal", "message": "internal error"}})
}

// FailStatus writes an explicit status and code.
func FailStatus(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
