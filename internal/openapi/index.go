// Package openapi embeds the service's OpenAPI document, validates it at
// startup, and indexes its operations by operationId.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed approvals.yaml
var approvalsSpec []byte

// Operation is one documented method and path.
type Operation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	Responses    *openapi3.Responses
}

// Index is the parsed document plus an operationId index.
type Index struct {
	doc        *openapi3.T
	rendered   []byte
	operations map[string]Operation
}

// Load parses and validates the embedded document.
func Load(ctx context.Context) (*Index, error) {
	return LoadData(ctx, approvalsSpec)
}

// LoadData parses and validates an OpenAPI document.
func LoadData(ctx context.Context, data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: parse: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi: validate: %w", err)
	}
	rendered, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: render: %w", err)
	}

	idx := &Index{doc: doc, rendered: rendered, operations: make(map[string]Operation)}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				return nil, fmt.Errorf("openapi: %s %s has no operationId", method, path)
			}

			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range item.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var body *openapi3.RequestBody
			if op.RequestBody != nil {
				body = op.RequestBody.Value
			}

			idx.operations[op.OperationID] = Operation{
				OperationID:  op.OperationID,
				Method:       strings.ToUpper(method),
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  body,
				Responses:    op.Responses,
			}
		}
	}
	return idx, nil
}

// Version returns info.version.
func (idx *Index) Version() string {
	if idx.doc.Info == nil {
		return ""
	}
	return idx.doc.Info.Version
}

// GetOperation returns the operation with the given ID.
func (idx *Index) GetOperation(operationID string) (Operation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// Operations returns every operation, sorted by path then method.
func (idx *Index) Operations() []Operation {
	out := make([]Operation, 0, len(idx.operations))
	for _, op := range idx.operations {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PathTemplate != out[j].PathTemplate {
			return out[i].PathTemplate < out[j].PathTemplate
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Documents reports whether method and path are documented.
func (idx *Index) Documents(method, path string) bool {
	item := idx.doc.Paths.Find(path)
	if item == nil {
		return false
	}
	return item.GetOperation(strings.ToUpper(method)) != nil
}

// Handler serves the document as JSON.
func (idx *Index) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(idx.rendered)
	})
}
