// Package mcpserver exposes the domain catalog and classification as MCP
// tools so assistants can classify records over stdio.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/abhisek/tierkit/internal/ingest"
	"github.com/abhisek/tierkit/internal/logging"
	"github.com/abhisek/tierkit/internal/reconcile"
	"github.com/abhisek/tierkit/internal/service"
)

// Server wraps the MCP SDK server with tierkit tools registered.
type Server struct {
	MCPServer *sdkmcp.Server

	svc *service.Service
	log *slog.Logger
}

// NewServer creates the server and registers list_domains,
// describe_domain and classify.
func NewServer(svc *service.Service, version string) *Server {
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "tierkit", Version: version}, nil),
		svc:       svc,
		log:       logging.New("mcp"),
	}
	s.registerTools()
	return s
}

// Run serves over stdio until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("starting tierkit MCP server over stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_domains",
		Description: "List the classification domains with their versions and tiers.",
	}, s.handleListDomains)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "describe_domain",
		Description: "Describe one domain: its factors with weights, tiers and default capacities.",
	}, s.handleDescribeDomain)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "classify",
		Description: "Classify records against a domain. Invalid records are skipped and listed; optionally reconcile tier demand against capacity.",
	}, s.handleClassify)
}

// --- Tool input/output types ---

type listDomainsInput struct{}

type domainView struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Tiers       []string `json:"tiers"`
}

type listDomainsOutput struct {
	Domains []domainView `json:"domains"`
}

type describeDomainInput struct {
	Name string `json:"name" jsonschema:"domain name from list_domains"`
}

type factorView struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

type tierView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type capacityView struct {
	Cluster  string `json:"cluster"`
	Capacity int    `json:"capacity"`
	Status   string `json:"status"`
}

type describeDomainOutput struct {
	Name        string             `json:"name"`
	Version     string             `json:"version"`
	Description string             `json:"description"`
	Constants   map[string]float64 `json:"constants"`
	Factors     []factorView       `json:"factors"`
	Tiers       []tierView         `json:"tiers"`
	Capacity    []capacityView     `json:"capacity"`
}

type capacityInput struct {
	Cluster  string `json:"cluster" jsonschema:"tier or cluster id"`
	Capacity int    `json:"capacity" jsonschema:"available slots (>= 0)"`
	Status   string `json:"status,omitempty" jsonschema:"active, limited or pilot (default active)"`
}

type classifyInput struct {
	Domain     string             `json:"domain" jsonschema:"domain name from list_domains"`
	Records    []map[string]any   `json:"records" jsonschema:"records as objects with an id field and factor attributes"`
	IDField    string             `json:"id_field,omitempty" jsonschema:"name of the record id field (default record_id)"`
	Constants  map[string]float64 `json:"constants,omitempty" jsonschema:"constant overrides for this run"`
	Reconcile  bool               `json:"reconcile,omitempty" jsonschema:"reconcile demand against the domain's capacity table"`
	Capacities []capacityInput    `json:"capacities,omitempty" jsonschema:"capacity table replacing the domain's own; implies reconcile"`
}

type resultView struct {
	RecordID   string             `json:"record_id"`
	Tier       string             `json:"tier"`
	TierLabel  string             `json:"tier_label"`
	Score      float64            `json:"score"`
	MatchedBy  string             `json:"matched_by"`
	Scales     map[string]string  `json:"scales"`
	Composites map[string]float64 `json:"composites,omitempty"`
}

type skipView struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

type clusterView struct {
	Cluster   string `json:"cluster"`
	Demand    int    `json:"demand"`
	Capacity  int    `json:"capacity"`
	Gap       int    `json:"gap"`
	Directive string `json:"directive"`
	Note      string `json:"note,omitempty"`
}

type classifyOutput struct {
	Domain         string         `json:"domain"`
	Version        string         `json:"version"`
	Total          int            `json:"total"`
	TierCounts     map[string]int `json:"tier_counts"`
	Results        []resultView   `json:"results"`
	Skipped        []skipView     `json:"skipped"`
	Reconciliation []clusterView  `json:"reconciliation"`
}

// --- Tool handlers ---

func (s *Server) handleListDomains(_ context.Context, _ *sdkmcp.CallToolRequest, _ listDomainsInput) (*sdkmcp.CallToolResult, listDomainsOutput, error) {
	defs := s.svc.Catalog().Definitions()
	out := listDomainsOutput{Domains: make([]domainView, 0, len(defs))}
	for _, def := range defs {
		v := domainView{
			Name:        def.Domain.Name(),
			Version:     def.Domain.Version(),
			Description: def.Domain.Description(),
			Tiers:       []string{},
		}
		for _, t := range def.Domain.Tiers() {
			v.Tiers = append(v.Tiers, t.ID)
		}
		out.Domains = append(out.Domains, v)
	}
	return nil, out, nil
}

func (s *Server) handleDescribeDomain(_ context.Context, _ *sdkmcp.CallToolRequest, input describeDomainInput) (*sdkmcp.CallToolResult, describeDomainOutput, error) {
	def, err := s.svc.Catalog().Get(input.Name)
	if err != nil {
		return nil, describeDomainOutput{}, err
	}
	doc := def.Document
	out := describeDomainOutput{
		Name:        doc.Name,
		Version:     doc.Version,
		Description: doc.Description,
		Constants:   map[string]float64{},
		Factors:     make([]factorView, 0, len(doc.Factors)),
		Tiers:       []tierView{},
		Capacity:    make([]capacityView, 0, len(def.Capacities)),
	}
	for k, v := range doc.Constants {
		out.Constants[k] = v
	}
	for _, f := range doc.Factors {
		out.Factors = append(out.Factors, factorView{Name: f.Name, Description: f.Description, Weight: f.Weight})
	}
	for _, t := range def.Domain.Tiers() {
		out.Tiers = append(out.Tiers, tierView{ID: t.ID, Label: t.Label})
	}
	for _, c := range def.Capacities {
		out.Capacity = append(out.Capacity, capacityView{Cluster: c.Cluster, Capacity: c.Capacity, Status: string(c.Status)})
	}
	return nil, out, nil
}

func (s *Server) handleClassify(ctx context.Context, _ *sdkmcp.CallToolRequest, input classifyInput) (*sdkmcp.CallToolResult, classifyOutput, error) {
	raw, err := json.Marshal(input.Records)
	if err != nil {
		return nil, classifyOutput{}, fmt.Errorf("encode records: %w", err)
	}
	records, err := ingest.ReadRecords(bytes.NewReader(raw), ingest.Options{
		Format:   ingest.FormatJSON,
		IDColumn: input.IDField,
		Source:   "mcp",
	})
	if err != nil {
		return nil, classifyOutput{}, err
	}

	req := service.Request{
		Domain:    input.Domain,
		Records:   records,
		Constants: input.Constants,
		Source:    "mcp",
		Reconcile: input.Reconcile,
	}
	if input.Capacities != nil {
		req.Capacities = make([]reconcile.Capacity, 0, len(input.Capacities))
		for _, c := range input.Capacities {
			req.Capacities = append(req.Capacities, reconcile.Capacity{
				Cluster:  c.Cluster,
				Capacity: c.Capacity,
				Status:   reconcile.Status(c.Status),
			})
		}
	}

	res, err := s.svc.Classify(ctx, req)
	if err != nil {
		return nil, classifyOutput{}, err
	}
	s.log.Info("classified", "domain", res.Batch.Domain, "records", res.Batch.Total, "skipped", len(res.Batch.Skipped))

	b := res.Batch
	out := classifyOutput{
		Domain:         b.Domain,
		Version:        b.Version,
		Total:          b.Total,
		TierCounts:     b.TierCounts(),
		Results:        make([]resultView, 0, len(b.Results)),
		Skipped:        make([]skipView, 0, len(b.Skipped)),
		Reconciliation: make([]clusterView, 0, len(res.Reports)),
	}
	for _, r := range b.Results {
		v := resultView{
			RecordID:   r.RecordID,
			Tier:       r.Tier.ID,
			TierLabel:  r.Tier.Label,
			Score:      r.Score,
			MatchedBy:  r.MatchedBy,
			Scales:     make(map[string]string, len(r.Scales)),
			Composites: r.Composites,
		}
		for _, sc := range r.Scales {
			v.Scales[sc.Name] = sc.Label
		}
		out.Results = append(out.Results, v)
	}
	for _, sk := range b.Skipped {
		out.Skipped = append(out.Skipped, skipView{Index: sk.Index, RecordID: sk.RecordID, Reason: sk.Reason})
	}
	for _, rep := range res.Reports {
		out.Reconciliation = append(out.Reconciliation, clusterView{
			Cluster:   rep.Cluster,
			Demand:    rep.Demand,
			Capacity:  rep.Capacity,
			Gap:       rep.Gap,
			Directive: rep.Directive,
			Note:      rep.Note,
		})
	}
	return nil, out, nil
}
