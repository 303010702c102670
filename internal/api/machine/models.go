package machine

import (
	"encoding/json"

	"github.com/lsst-sqre/cachemachine/internal/repoman"
)

// CreateRequest is the body of POST /cachemachine. Each repoman
// entry is kept raw and dispatched on its "type" field.
type CreateRequest struct {
	Name    string            `json:"name" validate:"required"`
	Labels  map[string]string `json:"labels" validate:"required"`
	Repomen []json.RawMessage `json:"repomen" validate:"required,min=1"`
}

// ImagesResponse is the body of the available and desired endpoints.
type ImagesResponse struct {
	Images []repoman.Image `json:"images"`
	All    []repoman.Image `json:"all"`
}
