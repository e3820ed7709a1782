// Package errors renders API failures as RFC 7807 Problem Details.
package errors

import (
	"encoding/json"
	"net/http"
)

// ContentType is the media type of a problem response.
const ContentType = "application/problem+json"

// Problem type URIs
const (
	TypeValidationError   = "/problems/validation-error"
	TypeNotFound          = "/problems/not-found"
	TypeProductNotTracked = "/problems/product-not-tracked"
	TypeBookUnavailable   = "/problems/book-unavailable"
)

// Problem titles
const (
	TitleValidationError   = "Validation Error"
	TitleNotFound          = "Not Found"
	TitleProductNotTracked = "Product Not Tracked"
	TitleBookUnavailable   = "Book Unavailable"
)

// ValidationError describes one rejected request parameter.
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Errors   []ValidationError      `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

func (p *ProblemDetails) Error() string {
	return p.Detail
}

func (p *ProblemDetails) WithValidationErrors(errors ...ValidationError) *ProblemDetails {
	p.Errors = append(p.Errors, errors...)
	return p
}

// WithExtra adds a member serialized next to the standard ones.
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON flattens Extra into the top level object.
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{}, len(p.Extra)+6)
	for k, v := range p.Extra {
		result[k] = v
	}
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	return json.Marshal(result)
}

func newProblem(typ, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typ,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

func NewValidationError(detail, instance string) *ProblemDetails {
	return newProblem(TypeValidationError, TitleValidationError, http.StatusBadRequest, detail, instance)
}

func NewNotFoundError(detail, instance string) *ProblemDetails {
	return newProblem(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

// NewProductNotTrackedError is returned for products the sync never subscribed to.
func NewProductNotTrackedError(product, instance string) *ProblemDetails {
	return newProblem(TypeProductNotTracked, TitleProductNotTracked, http.StatusNotFound,
		"product "+product+" is not tracked", instance).WithExtra("product", product)
}

// NewBookUnavailableError is returned while a tracked product has no published book.
func NewBookUnavailableError(product, instance string) *ProblemDetails {
	return newProblem(TypeBookUnavailable, TitleBookUnavailable, http.StatusNotFound,
		"book for "+product+" is not synchronised yet", instance).WithExtra("product", product)
}
