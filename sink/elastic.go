package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	v4 "github.com/aws/aws-sdk-go/aws/signer/v4"
	"github.com/olivere/elastic"
	"github.com/serialx/hashring"
)

// ElasticClient adapts github.com/olivere/elastic to the Client
// interface. When more than one node URL is configured it additionally
// spreads bulk submissions across the cluster with a consistent hash
// ring keyed by the index name of a bulk's first action: bulks for
// different indices can land on different nodes, while every bulk for
// the same index goes to the same node.
type ElasticClient struct {
	client *elastic.Client
	ring   *hashring.HashRing
	byURL  map[string]*elastic.Client
}

// Config configures NewElasticClient. AWSSigningRegion/AWSService, when
// non-empty, wrap the HTTP transport with an AWS SigV4 signer so the
// sink can target an Amazon OpenSearch/Elasticsearch Service domain
// that authenticates requests rather than accepting plain basic auth.
type Config struct {
	URLs             []string
	Sniff            bool
	AWSSigningRegion string
	AWSService       string // "es" or "aoss"
}

// NewElasticClient builds the sink.Client used in production. Each
// configured URL gets its own *elastic.Client pointed at just that node;
// a hash ring picks which one serves a given bulk submission so repeat
// traffic to the same index lands on the same node,
// favoring bulk-request locality over perfectly even spread.
func NewElasticClient(cfg Config) (*ElasticClient, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("sink: at least one elasticsearch URL is required")
	}
	httpClient := http.DefaultClient
	if cfg.AWSSigningRegion != "" {
		httpClient = &http.Client{Transport: &sigV4Transport{
			region:  cfg.AWSSigningRegion,
			service: serviceOrDefault(cfg.AWSService),
			signer:  v4.NewSigner(nil),
			base:    http.DefaultTransport,
		}}
	}

	byURL := make(map[string]*elastic.Client, len(cfg.URLs))
	for _, u := range cfg.URLs {
		c, err := elastic.NewClient(
			elastic.SetURL(u),
			elastic.SetSniff(cfg.Sniff),
			elastic.SetHttpClient(httpClient),
		)
		if err != nil {
			return nil, err
		}
		byURL[u] = c
	}
	primary := byURL[cfg.URLs[0]]
	return &ElasticClient{
		client: primary,
		ring:   hashring.New(cfg.URLs),
		byURL:  byURL,
	}, nil
}

func serviceOrDefault(s string) string {
	if s == "" {
		return "es"
	}
	return s
}

// clientFor picks the node assigned to namespace by the hash ring, or
// the default client when there is only one node / no namespace to key
// on (bootstrap and administrative calls).
func (e *ElasticClient) clientFor(namespace string) *elastic.Client {
	if e.ring == nil || namespace == "" {
		return e.client
	}
	if node, ok := e.ring.GetNode(namespace); ok {
		if c, ok := e.byURL[node]; ok {
			return c
		}
	}
	return e.client
}

func (e *ElasticClient) IndexExists(ctx context.Context, index string) (bool, error) {
	return e.client.IndexExists(index).Do(ctx)
}

func (e *ElasticClient) CreateIndex(ctx context.Context, index string) error {
	_, err := e.client.CreateIndex(index).Do(ctx)
	if err != nil {
		if isAlreadyExists(err) {
			return &ErrAlreadyExists{Index: index}
		}
		if elastic.IsConnErr(err) || isClusterBlocked(err) {
			return &ErrClusterNotReady{Cause: err}
		}
		return err
	}
	return nil
}

// isAlreadyExists detects the resource_already_exists_exception (or the
// pre-6.0 index_already_exists_exception) a concurrent creator causes.
func isAlreadyExists(err error) bool {
	e, ok := err.(*elastic.Error)
	if !ok || e.Details == nil {
		return false
	}
	switch e.Details.Type {
	case "resource_already_exists_exception", "index_already_exists_exception":
		return true
	}
	return false
}

func isClusterBlocked(err error) bool {
	return elastic.IsStatusCode(err, http.StatusServiceUnavailable)
}

func (e *ElasticClient) PutMapping(ctx context.Context, index, typeName string, mapping map[string]interface{}) error {
	_, err := e.client.PutMapping().Index(index).Type(typeName).BodyJson(mapping).Do(ctx)
	return err
}

// DeleteMapping issues the raw delete-mapping request; olivere/elastic
// dropped the dedicated service when upstream Elasticsearch retired the
// API from its documented surface, but river-era clusters still accept
// it, so it goes through PerformRequest directly.
func (e *ElasticClient) DeleteMapping(ctx context.Context, index, typeName string) error {
	_, err := e.client.PerformRequest(ctx, elastic.PerformRequestOptions{
		Method: "DELETE",
		Path:   "/" + index + "/_mapping/" + typeName,
	})
	return err
}

func (e *ElasticClient) GetMapping(ctx context.Context, index, typeName string) (map[string]interface{}, bool, error) {
	resp, err := e.client.GetMapping().Index(index).Type(typeName).Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	idx, ok := resp[index]
	if !ok {
		return nil, false, nil
	}
	idxMap, ok := idx.(map[string]interface{})
	if !ok {
		return nil, false, nil
	}
	mappings, ok := idxMap["mappings"].(map[string]interface{})
	if !ok {
		return nil, false, nil
	}
	typeMapping, ok := mappings[typeName].(map[string]interface{})
	if !ok {
		return nil, false, nil
	}
	return typeMapping, true, nil
}

func (e *ElasticClient) Refresh(ctx context.Context, index string) error {
	_, err := e.client.Refresh(index).Do(ctx)
	return err
}

func (e *ElasticClient) GetDocument(ctx context.Context, index, typeName, id string) (map[string]interface{}, bool, error) {
	resp, err := e.client.Get().Index(index).Type(typeName).Id(id).Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if resp.Source == nil {
		return nil, resp.Found, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(*resp.Source, &doc); err != nil {
		return nil, false, err
	}
	return doc, resp.Found, nil
}

func (e *ElasticClient) Bulk(ctx context.Context, actions []Action) (*BulkResult, error) {
	if len(actions) == 0 {
		return &BulkResult{}, nil
	}
	namespace := actions[0].Index
	svc := e.clientFor(namespace).Bulk()
	for _, a := range actions {
		switch a.Kind {
		case ActionIndex:
			req := elastic.NewBulkIndexRequest().Index(a.Index).Type(a.Type).Id(a.ID).Doc(a.Doc)
			if a.Parent != "" {
				req = req.Parent(a.Parent)
			}
			if a.Routing != "" {
				req = req.Routing(a.Routing)
			}
			svc = svc.Add(req)
		case ActionDelete:
			req := elastic.NewBulkDeleteRequest().Index(a.Index).Type(a.Type).Id(a.ID)
			if a.Parent != "" {
				req = req.Parent(a.Parent)
			}
			if a.Routing != "" {
				req = req.Routing(a.Routing)
			}
			svc = svc.Add(req)
		}
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	result := &BulkResult{}
	for i, item := range resp.Items {
		for _, res := range item {
			if res.Error != nil {
				result.PerItemErrors = append(result.PerItemErrors, ItemError{
					ActionIndex: i,
					Reason:      res.Error.Reason,
				})
			} else {
				result.Succeeded++
			}
		}
	}
	return result, nil
}

// sigV4Transport signs outbound requests for Amazon OpenSearch/
// Elasticsearch Service before delegating to base.
type sigV4Transport struct {
	region  string
	service string
	signer  *v4.Signer
	base    http.RoundTripper
}

func (t *sigV4Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Sign needs a seekable body and resets req.Body from it; passing
	// nil would null out the payload the client already attached.
	var body io.ReadSeeker
	if req.Body != nil {
		buf, err := ioutil.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}
	if _, err := t.signer.Sign(req, body, t.service, t.region, time.Now()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
