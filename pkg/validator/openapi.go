package validator

import (
	_ "embed"
	"fmt"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var schema []byte

// Schema returns the embedded API document
func Schema() []byte {
	return schema
}

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router
}

// NewOpenAPIValidator creates a validator for the embedded API document
func NewOpenAPIValidator() (*OpenAPIValidator, error) {
	return NewOpenAPIValidatorFromData(schema)
}

// NewOpenAPIValidatorFromData creates a validator for an arbitrary document
func NewOpenAPIValidatorFromData(data []byte) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI schema: %w", err)
	}

	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}

	return &OpenAPIValidator{doc: doc, router: router}, nil
}

// Document returns the parsed API document
func (v *OpenAPIValidator) Document() *openapi3.T {
	return v.doc
}

// Middleware validates requests for routes the document describes. Routes it
// does not describe, such as the WebSocket endpoint, pass through untouched.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, pathParams, err := v.router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				MultiError:         false,
			},
		}

		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			c.Error(errors.NewBadRequestError("VALIDATION_FAILED", "Request does not match the API schema").
				WithDetails(err.Error()))
			c.Abort()
			return
		}

		c.Next()
	}
}
