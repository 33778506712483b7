package factstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// SPARQLStore talks to a Fuseki-style SPARQL endpoint over HTTP. The dataset
// exposes /sparql for queries, /update for updates, and the admin ping at
// /$/ping. Authentication is HTTP basic.
type SPARQLStore struct {
	baseURL  string
	dataset  string
	user     string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// SPARQLConfig configures the remote store connection.
type SPARQLConfig struct {
	BaseURL  string
	Dataset  string
	User     string
	Password string
	Timeout  time.Duration
}

// NewSPARQLStore builds a client for the configured endpoint.
func NewSPARQLStore(cfg SPARQLConfig, logger *slog.Logger) *SPARQLStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SPARQLStore{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		dataset:  cfg.Dataset,
		user:     cfg.User,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (s *SPARQLStore) queryURL() string {
	return fmt.Sprintf("%s/%s/sparql", s.baseURL, s.dataset)
}

func (s *SPARQLStore) updateURL() string {
	return fmt.Sprintf("%s/%s/update", s.baseURL, s.dataset)
}

// Select runs a pattern query and decodes the bindings back into triples.
func (s *SPARQLStore) Select(ctx context.Context, pattern Pattern) ([]Triple, error) {
	query := buildSelect(pattern)
	body, err := s.post(ctx, s.queryURL(), "application/sparql-query", "application/sparql-results+json", query)
	if err != nil {
		return nil, fmt.Errorf("factstore: select: %w", err)
	}

	var res sparqlResults
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("factstore: decode results: %w", err)
	}

	triples := make([]Triple, 0, len(res.Results.Bindings))
	for _, b := range res.Results.Bindings {
		t, err := bindingToTriple(pattern, b)
		if err != nil {
			s.logger.Warn("skipping undecodable binding", "err", err)
			continue
		}
		triples = append(triples, t)
	}
	return triples, nil
}

// Insert adds triples with INSERT DATA.
func (s *SPARQLStore) Insert(ctx context.Context, triples []Triple) error {
	if len(triples) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(prologue)
	sb.WriteString("INSERT DATA {\n")
	for _, t := range triples {
		sb.WriteString("  ")
		sb.WriteString(t.Line())
		sb.WriteByte('\n')
	}
	sb.WriteString("}\n")
	if _, err := s.post(ctx, s.updateURL(), "application/sparql-update", "", sb.String()); err != nil {
		return fmt.Errorf("factstore: insert: %w", err)
	}
	return nil
}

// Delete removes all triples matching the pattern with DELETE WHERE.
func (s *SPARQLStore) Delete(ctx context.Context, pattern Pattern) error {
	var sb strings.Builder
	sb.WriteString(prologue)
	sb.WriteString("DELETE WHERE {\n  ")
	sb.WriteString(patternClause(pattern))
	sb.WriteString("\n}\n")
	if _, err := s.post(ctx, s.updateURL(), "application/sparql-update", "", sb.String()); err != nil {
		return fmt.Errorf("factstore: delete: %w", err)
	}
	return nil
}

// BulkLoad loads triples in chunks. Fuseki handles large INSERT DATA bodies,
// but chunking keeps individual requests bounded.
func (s *SPARQLStore) BulkLoad(ctx context.Context, triples []Triple) error {
	const chunk = 500
	for start := 0; start < len(triples); start += chunk {
		end := min(start+chunk, len(triples))
		if err := s.Insert(ctx, triples[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Ping hits the server admin ping endpoint.
func (s *SPARQLStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/$/ping", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("factstore: ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("factstore: ping: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *SPARQLStore) post(ctx context.Context, url, contentType, accept, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

const prologue = "PREFIX : <" + NS + ">\nPREFIX rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#>\n"

func buildSelect(pattern Pattern) string {
	var sb strings.Builder
	sb.WriteString(prologue)
	sb.WriteString("SELECT ?s ?p ?o WHERE {\n  ")
	sb.WriteString(patternClause(pattern))
	sb.WriteString("\n}\n")
	return sb.String()
}

func patternClause(p Pattern) string {
	s, pred, o := "?s", "?p", "?o"
	if p.Subject != "" {
		s = ":" + p.Subject
	}
	if p.Predicate == PredType {
		pred = "a"
	} else if p.Predicate != "" {
		pred = ":" + p.Predicate
	}
	if p.Object != "" {
		if p.LiteralObject {
			o = `"` + escapeLiteral(p.Object) + `"`
		} else {
			o = ":" + p.Object
		}
	}
	return s + " " + pred + " " + o + " ."
}

type sparqlResults struct {
	Results struct {
		Bindings []map[string]sparqlTerm `json:"bindings"`
	} `json:"results"`
}

type sparqlTerm struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

const rdfTypeIRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// bindingToTriple reassembles a full triple from the bound pattern parts and
// the returned variables, translating IRIs back to local names.
func bindingToTriple(pattern Pattern, b map[string]sparqlTerm) (Triple, error) {
	t := Triple{Subject: pattern.Subject, Predicate: pattern.Predicate, Object: pattern.Object, Literal: pattern.LiteralObject}

	if term, ok := b["s"]; ok {
		t.Subject = localName(term.Value)
	}
	if term, ok := b["p"]; ok {
		if term.Value == rdfTypeIRI {
			t.Predicate = PredType
		} else {
			t.Predicate = localName(term.Value)
		}
	}
	if term, ok := b["o"]; ok {
		t.Object = term.Value
		t.Literal = term.Type == "literal" || term.Type == "typed-literal"
		if !t.Literal {
			t.Object = localName(term.Value)
		}
	}
	if t.Subject == "" || t.Predicate == "" || t.Object == "" {
		return Triple{}, fmt.Errorf("incomplete binding %v", b)
	}
	return t, nil
}

func localName(iri string) string {
	if i := strings.LastIndexAny(iri, "#/"); i >= 0 {
		return iri[i+1:]
	}
	return iri
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
