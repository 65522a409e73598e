package structured

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionGet    Action = "get"
	ActionList   Action = "list"
	ActionSearch Action = "search"
	ActionDelete Action = "delete"
)

// Operation is one entry of the OpenDirect tool surface.
type Operation struct {
	Name     string
	Entity   string
	Action   Action
	Info     *schema.ToolInfo
	Required []string
	params   map[string]*schema.ParameterInfo
}

// Mutating reports whether the seller creates or changes an entity.
func (o Operation) Mutating() bool {
	return o.Action == ActionCreate || o.Action == ActionUpdate || o.Action == ActionDelete
}

type entityDef struct {
	name    string
	plural  string
	actions []Action
	fields  map[string]*schema.ParameterInfo
	create  []string
	listBy  []string
}

func str(desc string) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.String, Desc: desc}
}

func num(desc string) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.Number, Desc: desc}
}

func integer(desc string) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.Integer, Desc: desc}
}

func object(desc string) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.Object, Desc: desc}
}

var crud = []Action{ActionCreate, ActionUpdate, ActionGet, ActionList}

var entities = []entityDef{
	{
		name: "account", plural: "accounts", actions: crud,
		fields: map[string]*schema.ParameterInfo{
			"name":         str("Account display name"),
			"advertiserId": str("Advertiser the account buys for"),
			"type":         str("Account type, e.g. advertiser or agency"),
		},
		create: []string{"name", "advertiserId"},
	},
	{
		name: "order", plural: "orders", actions: crud,
		fields: map[string]*schema.ParameterInfo{
			"name":      str("Order name"),
			"accountId": str("Owning account"),
			"budget":    num("Total budget in the order currency"),
			"currency":  str("ISO 4217 currency code"),
			"startDate": str("Flight start, RFC 3339 date"),
			"endDate":   str("Flight end, RFC 3339 date"),
			"status":    str("Order status"),
		},
		create: []string{"name", "accountId", "budget", "startDate", "endDate"},
		listBy: []string{"accountId"},
	},
	{
		name: "line", plural: "lines", actions: crud,
		fields: map[string]*schema.ParameterInfo{
			"name":      str("Line item name"),
			"orderId":   str("Owning order"),
			"productId": str("Booked product"),
			"quantity":  integer("Impressions booked"),
			"rateType":  str("Pricing model, e.g. CPM"),
			"startDate": str("Flight start, RFC 3339 date"),
			"endDate":   str("Flight end, RFC 3339 date"),
			"targeting": object("Targeting overrides"),
		},
		create: []string{"name", "orderId", "productId", "quantity", "startDate", "endDate"},
		listBy: []string{"orderId"},
	},
	{
		name: "creative", plural: "creatives", actions: crud,
		fields: map[string]*schema.ParameterInfo{
			"name":      str("Creative name"),
			"accountId": str("Owning account"),
			"adFormat":  str("Ad format, e.g. display or video"),
			"url":       str("Asset URL"),
		},
		create: []string{"name", "accountId", "adFormat"},
		listBy: []string{"accountId"},
	},
	{
		name: "organization", plural: "organizations", actions: crud,
		fields: map[string]*schema.ParameterInfo{
			"name": str("Organization name"),
			"type": str("Organization type, e.g. agency or advertiser"),
			"url":  str("Organization website"),
		},
		create: []string{"name", "type"},
	},
	{
		name: "product", plural: "products", actions: []Action{ActionGet, ActionList, ActionSearch},
		fields: map[string]*schema.ParameterInfo{
			"query":   str("Free-text product query"),
			"channel": str("Channel filter"),
			"maxCPM":  num("Upper CPM bound"),
		},
	},
	{
		name: "assignment", plural: "assignments", actions: []Action{ActionCreate, ActionGet, ActionList, ActionDelete},
		fields: map[string]*schema.ParameterInfo{
			"creativeId": str("Assigned creative"),
			"lineId":     str("Target line"),
		},
		create: []string{"creativeId", "lineId"},
		listBy: []string{"lineId"},
	},
	{
		name: "change_request", plural: "change_requests", actions: []Action{ActionCreate, ActionGet, ActionList},
		fields: map[string]*schema.ParameterInfo{
			"orderId": str("Order the change applies to"),
			"reason":  str("Requested change"),
			"changes": object("Structured change payload"),
		},
		create: []string{"orderId", "reason"},
		listBy: []string{"orderId"},
	},
	{
		name: "message", plural: "messages", actions: []Action{ActionCreate, ActionGet, ActionList},
		fields: map[string]*schema.ParameterInfo{
			"orderId": str("Order the message belongs to"),
			"body":    str("Message body"),
		},
		create: []string{"orderId", "body"},
		listBy: []string{"orderId"},
	},
}

// Catalog is the fixed OpenDirect operation surface.
type Catalog struct {
	ops   map[string]Operation
	names []string
}

var defaultCatalog = buildCatalog()

// DefaultCatalog returns the shared 33-operation catalog.
func DefaultCatalog() *Catalog { return defaultCatalog }

func buildCatalog() *Catalog {
	c := &Catalog{ops: make(map[string]Operation, 33)}
	for _, e := range entities {
		for _, a := range e.actions {
			op := buildOperation(e, a)
			c.ops[op.Name] = op
			c.names = append(c.names, op.Name)
		}
	}
	sort.Strings(c.names)
	return c
}

func buildOperation(e entityDef, a Action) Operation {
	params := make(map[string]*schema.ParameterInfo)
	name := string(a) + "_" + e.name
	noun := strings.ReplaceAll(e.name, "_", " ")

	switch a {
	case ActionCreate:
		for k, p := range e.fields {
			params[k] = withRequired(p, contains(e.create, k))
		}
		params["idempotencyKey"] = str("Stable key so a retried create is applied once")
	case ActionUpdate:
		params["id"] = withRequired(str("Identifier of the "+noun), true)
		for k, p := range e.fields {
			params[k] = withRequired(p, false)
		}
	case ActionGet, ActionDelete:
		params["id"] = withRequired(str("Identifier of the "+noun), true)
	case ActionList:
		name = "list_" + e.plural
		for _, k := range e.listBy {
			params[k] = withRequired(e.fields[k], false)
		}
		params["limit"] = integer("Page size")
		params["offset"] = integer("Page offset")
	case ActionSearch:
		name = "search_" + e.plural
		for k, p := range e.fields {
			params[k] = withRequired(p, false)
		}
		params["filter"] = str("CEL filter over product fields")
	}

	var required []string
	for k, p := range params {
		if p.Required {
			required = append(required, k)
		}
	}
	sort.Strings(required)

	return Operation{
		Name:     name,
		Entity:   e.name,
		Action:   a,
		Required: required,
		params:   params,
		Info: &schema.ToolInfo{
			Name:        name,
			Desc:        describe(a, noun, e.plural),
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		},
	}
}

func describe(a Action, noun, plural string) string {
	switch a {
	case ActionList:
		return fmt.Sprintf("List %s.", strings.ReplaceAll(plural, "_", " "))
	case ActionSearch:
		return fmt.Sprintf("Search %s by query or filter.", strings.ReplaceAll(plural, "_", " "))
	default:
		verb := string(a)
		return fmt.Sprintf("%s %s %s.", strings.ToUpper(verb[:1])+verb[1:], article(noun), noun)
	}
}

func article(noun string) string {
	switch noun[0] {
	case 'a', 'e', 'i', 'o', 'u':
		return "an"
	}
	return "a"
}

func withRequired(p *schema.ParameterInfo, required bool) *schema.ParameterInfo {
	cp := *p
	cp.Required = required
	return &cp
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (c *Catalog) Lookup(name string) (Operation, bool) {
	op, ok := c.ops[strings.TrimSpace(name)]
	return op, ok
}

// Names returns every operation name, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// ToolInfos returns the eino tool descriptions, e.g. for an interpreter
// model that must pick one operation.
func (c *Catalog) ToolInfos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.ops[n].Info)
	}
	return out
}

// Missing lists the required arguments absent or empty in args.
func (o Operation) Missing(args map[string]any) []string {
	var missing []string
	for _, k := range o.Required {
		v, ok := args[k]
		if !ok || v == nil {
			missing = append(missing, k)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}
