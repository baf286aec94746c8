package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

// Registry defaults for the ACRA dataset on data.gov.sg.
const (
	DefaultRegistryURL        = "https://data.gov.sg/api/action/datastore_search"
	DefaultRegistryResourceID = "d_3f960c10fed6145404ca7b821f263b87"
	DefaultRegistryRPS        = 2
	DefaultRegistryTimeout    = 15 * time.Second
)

// RegistryEntry is a registered entity.
type RegistryEntry struct {
	UEN    string `json:"uen"`
	Name   string `json:"entity_name"`
	Status string `json:"entity_status_description,omitempty"`
}

// Registry looks up registered entities. Lookup returns nil, nil when the UEN
// is not registered.
type Registry interface {
	Lookup(ctx context.Context, uen string) (*RegistryEntry, error)
}

// ACRARegistry queries the ACRA entity dataset through the CKAN datastore API.
type ACRARegistry struct {
	baseURL    string
	resourceID string
	apiKey     string
	client     *http.Client
	limiter    *rate.Limiter
}

// ACRAOptions configures an ACRARegistry.
type ACRAOptions struct {
	BaseURL           string
	ResourceID        string
	APIKey            string
	RequestsPerSecond float64
	Client            *http.Client
}

// NewACRARegistry creates a registry client; zero options use the defaults.
func NewACRARegistry(opts ACRAOptions) *ACRARegistry {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRegistryURL
	}
	if opts.ResourceID == "" {
		opts.ResourceID = DefaultRegistryResourceID
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRegistryRPS
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: DefaultRegistryTimeout}
	}
	return &ACRARegistry{
		baseURL:    opts.BaseURL,
		resourceID: opts.ResourceID,
		apiKey:     opts.APIKey,
		client:     opts.Client,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
	}
}

type datastoreResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records []RegistryEntry `json:"records"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Lookup searches the dataset for an exact UEN match.
func (r *ACRARegistry) Lookup(ctx context.Context, uen string) (*RegistryEntry, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &RegistryError{UEN: uen, Message: "rate limiter wait", Cause: err}
	}

	filters, _ := json.Marshal(map[string]string{"uen": uen})
	q := url.Values{}
	q.Set("resource_id", r.resourceID)
	q.Set("filters", string(filters))
	q.Set("limit", "5")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &RegistryError{UEN: uen, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("x-api-key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &RegistryError{UEN: uen, Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RegistryError{UEN: uen, Message: "failed to read response", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RegistryError{UEN: uen, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	var parsed datastoreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &RegistryError{UEN: uen, Message: "invalid response", Cause: err}
	}
	if !parsed.Success {
		msg := "request unsuccessful"
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, &RegistryError{UEN: uen, Message: msg}
	}

	for _, rec := range parsed.Result.Records {
		if strings.EqualFold(strings.TrimSpace(rec.UEN), uen) {
			entry := rec
			return &entry, nil
		}
	}
	return nil, nil
}

// companySuffixes are dropped before names are compared.
var companySuffixes = map[string]bool{
	"pte": true, "ltd": true, "private": true, "limited": true, "llp": true,
	"inc": true, "co": true, "company": true, "the": true, "singapore": true,
}

func nameTokens(name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if !companySuffixes[f] {
			out = append(out, f)
		}
	}
	return out
}

// NameSimilarity scores two company names in [0,1] using the edit distance of
// their significant words.
func NameSimilarity(a, b string) float64 {
	x := strings.Join(nameTokens(a), " ")
	y := strings.Join(nameTokens(b), " ")
	if x == "" && y == "" {
		return 1
	}
	longest := len([]rune(x))
	if n := len([]rune(y)); n > longest {
		longest = n
	}
	return 1 - float64(levenshtein(x, y))/float64(longest)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
