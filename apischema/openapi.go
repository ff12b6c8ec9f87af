package apischema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reoring/shapekit/jsonschema"
	"github.com/reoring/shapekit/shape"
)

// SecurityType selects the security scheme advertised by the document.
type SecurityType string

const (
	SecurityNone   SecurityType = "none"
	SecurityBasic  SecurityType = "basic"
	SecurityBearer SecurityType = "bearer"
)

// ParseSecurityType accepts none, basic or bearer (case-insensitive).
func ParseSecurityType(s string) (SecurityType, error) {
	switch t := SecurityType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return SecurityNone, nil
	case SecurityNone, SecurityBasic, SecurityBearer:
		return t, nil
	}
	return "", fmt.Errorf("apischema: unknown security type %q", s)
}

// Document is the subset of OpenAPI 3 the service publishes.
type Document struct {
	OpenAPI    string                `json:"openapi"`
	Info       Info                  `json:"info"`
	Paths      map[string]*PathItem  `json:"paths"`
	Components Components            `json:"components"`
	Security   []map[string][]string `json:"security,omitempty"`
}

type Info struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
}

type Operation struct {
	Summary     string                `json:"summary"`
	OperationID string                `json:"operationId"`
	Tags        []string              `json:"tags"`
	Parameters  []Parameter           `json:"parameters,omitempty"`
	RequestBody *RequestBody          `json:"requestBody,omitempty"`
	Responses   map[string]*Response  `json:"responses"`
	Security    []map[string][]string `json:"security,omitempty"`
}

type Parameter struct {
	Name        string             `json:"name"`
	In          string             `json:"in"`
	Description string             `json:"description,omitempty"`
	Required    bool               `json:"required"`
	Schema      *jsonschema.Schema `json:"schema"`
}

type RequestBody struct {
	Content map[string]MediaType `json:"content"`
}

type MediaType struct {
	Schema *jsonschema.Schema `json:"schema"`
}

type Response struct {
	Description string               `json:"description"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

type Components struct {
	Schemas         map[string]*jsonschema.Schema `json:"schemas"`
	SecuritySchemes map[string]SecurityScheme     `json:"securitySchemes,omitempty"`
}

type SecurityScheme struct {
	Type   string `json:"type"`
	Scheme string `json:"scheme"`
}

// ShapeSchemas pairs a shape with its compiled variants.
type ShapeSchemas struct {
	Shape *shape.Shape
	Full  *jsonschema.Schema
	Input *jsonschema.Schema
}

// OpenAPIOptions configures BuildOpenAPI.
type OpenAPIOptions struct {
	// BasePath prefixes every shape path. Defaults to "/api/".
	BasePath string
	Security SecurityType
	Version  string
}

const (
	defaultPage = 0
	defaultSize = 25
)

// response bodies returned by an operation
const (
	respNone = iota
	respItem
	respPage
)

// BuildOpenAPI assembles the document for the shapes of one namespace.
// Shapes are emitted in name order.
func BuildOpenAPI(namespace string, shapes []ShapeSchemas, opts OpenAPIOptions) *Document {
	if opts.BasePath == "" {
		opts.BasePath = "/api/"
	}
	if !strings.HasSuffix(opts.BasePath, "/") {
		opts.BasePath += "/"
	}
	if opts.Version == "" {
		opts.Version = "1.0"
	}
	doc := &Document{
		OpenAPI: "3.0.3",
		Info: Info{
			Title:       namespace + " Structures API",
			Version:     opts.Version,
			Description: "Provides access to Structures Items for the " + namespace + " namespace",
		},
		Paths:      map[string]*PathItem{},
		Components: Components{Schemas: map[string]*jsonschema.Schema{}},
	}
	b := &docBuilder{doc: doc, opts: opts}
	if name, scheme := b.securityScheme(); name != "" {
		doc.Components.SecuritySchemes = map[string]SecurityScheme{name: scheme}
		doc.Security = []map[string][]string{{name: {}}}
	}

	sorted := append([]ShapeSchemas(nil), shapes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Shape.Name < sorted[j].Shape.Name })
	for _, s := range sorted {
		b.addShape(s)
	}
	return doc
}

type docBuilder struct {
	doc  *Document
	opts OpenAPIOptions
}

func (b *docBuilder) securityScheme() (string, SecurityScheme) {
	switch b.opts.Security {
	case SecurityBasic:
		return "BasicAuth", SecurityScheme{Type: "http", Scheme: "basic"}
	case SecurityBearer:
		return "BearerAuth", SecurityScheme{Type: "http", Scheme: "bearer"}
	}
	return "", SecurityScheme{}
}

func ref(name string) *jsonschema.Schema {
	return &jsonschema.Schema{Ref: "#/components/schemas/" + name}
}

func pageParams() []Parameter {
	return []Parameter{
		{Name: "page", In: "query", Description: "The page number to get", Schema: &jsonschema.Schema{Type: "integer", Default: defaultPage}},
		{Name: "size", In: "query", Description: "The number of items per page", Schema: &jsonschema.Schema{Type: "integer", Default: defaultSize}},
	}
}

func idParam(name, verb string) Parameter {
	return Parameter{
		Name:        "id",
		In:          "path",
		Description: "The id of the " + name + " to " + verb,
		Required:    true,
		Schema:      &jsonschema.Schema{Type: "string"},
	}
}

func jsonBody(s *jsonschema.Schema) *RequestBody {
	return &RequestBody{Content: map[string]MediaType{"application/json": {Schema: s}}}
}

func textBody() *RequestBody {
	return &RequestBody{Content: map[string]MediaType{"text/plain": {Schema: &jsonschema.Schema{Type: "string"}}}}
}

func (b *docBuilder) addShape(s ShapeSchemas) {
	name := s.Shape.Name
	base := b.opts.BasePath + s.Shape.ID

	b.doc.Components.Schemas[name] = s.Full
	b.doc.Components.Schemas[name+"Input"] = s.Input
	input := ref(name + "Input")

	getAll := b.operation("Get all "+name, "getAll"+name, name, respPage)
	getAll.Parameters = pageParams()
	upsert := b.operation("Upsert "+name, "upsert"+name, name, respItem)
	upsert.RequestBody = jsonBody(input)
	b.doc.Paths[base] = &PathItem{Get: getAll, Post: upsert}

	getByID := b.operation("Get "+name+" by Id", "get"+name+"ById", name, respItem)
	getByID.Parameters = []Parameter{idParam(name, "get")}
	del := b.operation("Delete "+name, "delete"+name, name, respNone)
	del.Parameters = []Parameter{idParam(name, "delete")}
	b.doc.Paths[base+"/{id}"] = &PathItem{Get: getByID, Delete: del}

	search := b.operation("Search "+name, "search"+name, name, respPage)
	search.Parameters = pageParams()
	search.RequestBody = textBody()
	b.doc.Paths[base+"/search"] = &PathItem{Post: search}

	sorted := b.operation("Search with Sort "+name, "searchWithSort"+name, name, respPage)
	sorted.Parameters = append([]Parameter{
		{Name: "sortField", In: "query", Description: "The field to apply sorting to", Required: true, Schema: &jsonschema.Schema{Type: "string"}},
		{Name: "isDescending", In: "query", Description: "Should we sort descending", Schema: &jsonschema.Schema{Type: "boolean", Default: false}},
	}, pageParams()...)
	sorted.RequestBody = textBody()
	b.doc.Paths[base+"/searchWithSort"] = &PathItem{Post: sorted}

	bulk := b.operation("Bulk Upsert "+name, "bulkUpsert"+name, name, respNone)
	bulk.RequestBody = jsonBody(&jsonschema.Schema{Type: "array", Items: input})
	b.doc.Paths[base+"/bulk-upsert"] = &PathItem{Post: bulk}
}

func (b *docBuilder) operation(summary, id, name string, resp int) *Operation {
	op := &Operation{
		Summary:     summary,
		OperationID: id,
		Tags:        []string{name},
		Responses:   defaultResponses(),
	}
	if scheme, _ := b.securityScheme(); scheme != "" {
		op.Security = []map[string][]string{{scheme: {}}}
	}
	ok := &Response{Description: summary + " OK"}
	switch resp {
	case respItem:
		ok.Content = map[string]MediaType{"application/json": {Schema: ref(name)}}
	case respPage:
		ok.Content = map[string]MediaType{"application/json": {Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"content":       {Type: "array", Items: ref(name)},
				"totalElements": {Type: "integer"},
			},
		}}}
	}
	op.Responses["200"] = ok
	return op
}

func defaultResponses() map[string]*Response {
	return map[string]*Response{
		"400": {Description: "Bad Request"},
		"401": {Description: "Unauthorized"},
		"403": {Description: "Forbidden"},
		"404": {Description: "Not Found"},
		"500": {Description: "Internal Server Error"},
	}
}
