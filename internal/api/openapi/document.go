// Package openapi holds the OpenAPI description of the HTTP API and
// validates requests and responses against it.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"

	apperrors "github.com/atelier-platform/production-engine/pkg/errors"
	"github.com/atelier-platform/production-engine/pkg/middleware"
)

//go:embed openapi.yaml
var document []byte

// ErrNoRoute is returned for requests the document does not describe
var ErrNoRoute = errors.New("operation not described by the API document")

// Document returns the raw YAML document
func Document() []byte {
	return document
}

// Validator matches requests to operations of the loaded document
type Validator struct {
	doc    *openapi3.T
	router routers.Router
}

// NewValidator loads and validates the embedded document
func NewValidator(ctx context.Context) (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("failed to load API document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid API document: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build API router: %w", err)
	}
	return &Validator{doc: doc, router: router}, nil
}

// OperationIDs lists every operation of the document
func (v *Validator) OperationIDs() []string {
	var ids []string
	for _, item := range v.doc.Paths.Map() {
		for _, op := range item.Operations() {
			ids = append(ids, op.OperationID)
		}
	}
	return ids
}

func (v *Validator) requestInput(req *http.Request) (*openapi3filter.RequestValidationInput, error) {
	route, params, err := v.router.FindRoute(req)
	if err != nil {
		var routeErr *routers.RouteError
		if errors.As(err, &routeErr) {
			return nil, fmt.Errorf("%w: %s %s", ErrNoRoute, req.Method, req.URL.Path)
		}
		return nil, err
	}
	return &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: params,
		Route:      route,
		Options:    &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc},
	}, nil
}

// ValidateRequest checks parameters and body of req. The body is restored
// so handlers can bind it afterwards.
func (v *Validator) ValidateRequest(req *http.Request) error {
	input, err := v.requestInput(req)
	if err != nil {
		return err
	}
	return openapi3filter.ValidateRequest(req.Context(), input)
}

// ValidateResponse checks a response produced for req
func (v *Validator) ValidateResponse(req *http.Request, status int, header http.Header, body []byte) error {
	input, err := v.requestInput(req)
	if err != nil {
		return err
	}
	out := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 status,
		Header:                 header,
		Options:                &openapi3filter.Options{IncludeResponseStatus: true},
	}
	out.SetBodyBytes(body)
	return openapi3filter.ValidateResponse(req.Context(), out)
}

// Handler serves the document
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", document)
	}
}

// RequestValidation rejects requests that break the document before they
// reach a handler. Routes outside the document pass through.
func (v *Validator) RequestValidation() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := v.ValidateRequest(c.Request)
		if err == nil || errors.Is(err, ErrNoRoute) {
			c.Next()
			return
		}

		appErr := apperrors.ErrValidation("request does not match the API document")
		var reqErr *openapi3filter.RequestError
		if errors.As(err, &reqErr) {
			if reqErr.Parameter != nil {
				appErr = appErr.WithDetail(reqErr.Parameter.Name, reqErr.Reason)
			} else {
				appErr = appErr.WithDetail("body", reqErr.Error())
			}
		}
		middleware.AbortWithAppError(c, appErr)
	}
}
