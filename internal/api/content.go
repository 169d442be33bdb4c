package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/audiolibrelab/shabadfinder/internal/validate"
)

// FetchHymn retrieves and validates GET {content}/shabad/{id}.
func (c *Client) FetchHymn(ctx context.Context, id string) (HymnDocument, error) {
	id = strings.TrimSpace(id)

	var doc HymnDocument
	err := c.observe(ctx, serviceContent, "fetch_hymn", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentURL+"/shabad/"+url.PathEscape(id), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		raw, err := c.send(req, serviceContent)
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			switch statusErr.Code {
			case http.StatusNotFound:
				return &NotFoundError{ID: id}
			case http.StatusForbidden:
				return &AccessDeniedError{Service: serviceContent}
			}
		}
		if err != nil {
			return err
		}

		var decoded any
		if err := decodeJSON(serviceContent, raw, &decoded); err != nil {
			return err
		}
		if out := validate.HymnDocument(decoded); !out.Valid {
			shapeErr := &ShapeError{Service: serviceContent, Errors: out.Errors}
			logShape(shapeErr)
			return shapeErr
		}

		decodedDoc, errs := decodeHymn(id, raw)
		if len(errs) > 0 {
			shapeErr := &ShapeError{Service: serviceContent, Errors: errs}
			logShape(shapeErr)
			return shapeErr
		}
		doc = decodedDoc
		return nil
	})
	if err != nil {
		return HymnDocument{}, err
	}
	return doc, nil
}
