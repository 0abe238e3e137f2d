package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValidatorConfig holds request validation limits.
type ValidatorConfig struct {
	MaxBodySize        int64 // maximum request body size in bytes
	MaxNameLength      int   // maximum job name length
	MaxCommandLength   int   // maximum build command length
	MaxConfigSpecBytes int   // maximum config spec size
	MaxViewTagLength   int   // maximum view tag length
}

// DefaultValidatorConfig returns safe defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:        1 << 20, // 1MB
		MaxNameLength:      256,
		MaxCommandLength:   4096,
		MaxConfigSpecBytes: 64 << 10, // generous; real specs run a few KB
		MaxViewTagLength:   62,
	}
}

// Validator performs request field validation.
type Validator struct {
	config     ValidatorConfig
	viewTagPat *regexp.Regexp
}

// NewValidator creates a new validator with the given config.
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{
		config: config,
		// cleartool rejects tags with whitespace or shell metacharacters;
		// we reject them before they ever reach a command line.
		viewTagPat: regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`),
	}
}

// ValidateName checks a job name.
func (v *Validator) ValidateName(name string) error {
	if len(name) == 0 {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > v.config.MaxNameLength {
		return &ValidationError{Field: "name", Message: "name exceeds maximum length"}
	}
	if strings.ContainsAny(name, "\r\n\x00") {
		return &ValidationError{Field: "name", Message: "name contains control characters"}
	}
	return nil
}

// ValidateCommand checks a build command. Commands are trusted input from
// authenticated operators; only size is bounded here.
func (v *Validator) ValidateCommand(command string) error {
	if len(command) == 0 {
		return &ValidationError{Field: "command", Message: "command is required"}
	}
	if len(command) > v.config.MaxCommandLength {
		return &ValidationError{Field: "command", Message: "command exceeds maximum length"}
	}
	return nil
}

// ValidateViewTag checks a ClearCase snapshot view tag.
func (v *Validator) ValidateViewTag(tag string) error {
	if len(tag) > v.config.MaxViewTagLength {
		return &ValidationError{Field: "scm.view_tag", Message: "view tag exceeds maximum length"}
	}
	if !v.viewTagPat.MatchString(tag) {
		return &ValidationError{Field: "scm.view_tag", Message: "view tag contains invalid characters"}
	}
	return nil
}

// ValidateConfigSpec checks a ClearCase config spec. Content is opaque to
// us (cleartool setcs is the authority); only size and encoding are checked.
func (v *Validator) ValidateConfigSpec(spec string) error {
	if len(spec) > v.config.MaxConfigSpecBytes {
		return &ValidationError{Field: "scm.config_spec", Message: "config spec exceeds maximum size"}
	}
	if strings.ContainsRune(spec, '\x00') {
		return &ValidationError{Field: "scm.config_spec", Message: "config spec contains NUL bytes"}
	}
	return nil
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BodySizeLimit rejects oversized request bodies.
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeaders adds standard response hardening headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}

// RequestID tags each request with an ID for log correlation, honoring one
// supplied by the client.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
