package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"shop-service/middlewares"
	"shop-service/services"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(wireName)
	}
}

// wireName reports a field by its json name, or its form name for query
// structs, so validation errors use the names clients send.
func wireName(fld reflect.StructField) string {
	for _, key := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(key), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return ""
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrValidation, http.StatusBadRequest, "validation_error"},
	{services.ErrNotFound, http.StatusNotFound, "not_found"},
	{services.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{services.ErrForbidden, http.StatusForbidden, "forbidden"},
	{services.ErrConflict, http.StatusConflict, "conflict"},
	{services.ErrInsufficientStock, http.StatusBadRequest, "insufficient_stock"},
	{services.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{services.ErrNotCancellable, http.StatusBadRequest, "not_cancellable"},
	{services.ErrNotEligible, http.StatusBadRequest, "not_eligible"},
	{services.ErrWindowExpired, http.StatusBadRequest, "window_expired"},
	{services.ErrAlreadyRequested, http.StatusBadRequest, "already_requested"},
	{services.ErrRefundResolved, http.StatusBadRequest, "refund_resolved"},
}

// respondError writes the error envelope for a service error. Unknown errors
// are logged and reported as a generic 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			c.AbortWithStatusJSON(e.status, errorBody{Error: e.code, Message: err.Error()})
			return
		}
	}

	logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("request_id", middlewares.GetRequestID(c)),
		zap.Error(err),
	)
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal server error"})
}

// respondBindError reports a request body or query that failed to bind.
func respondBindError(c *gin.Context, err error) {
	body := errorBody{Error: "validation_error", Message: "invalid request"}

	var verrs validator.ValidationErrors
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &verrs):
		body.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			body.Fields[fieldPath(fe)] = fieldMessage(fe)
		}
	case errors.As(err, &syntaxErr):
		body.Message = "malformed JSON body"
	case errors.As(err, &typeErr):
		body.Message = fmt.Sprintf("field %s must be %s", typeErr.Field, typeErr.Type)
	default:
		body.Message = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}

// fieldPath drops the top-level struct name: "CreateOrderRequest.items[0].quantity"
// becomes "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
