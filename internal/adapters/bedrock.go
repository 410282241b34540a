package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// BedrockAdapter handles AWS Bedrock with Anthropic models.
//
// The key differences from direct Anthropic are:
//   - Authentication: AWS SigV4 instead of x-api-key (signing transport)
//   - URL pattern: /model/{modelId}/invoke instead of /v1/messages
//   - Body: anthropic_version in the body, no model field
//   - Streaming uses the AWS event-stream framing, not SSE; streamed
//     requests are served by invoke and delivered as one delta
type BedrockAdapter struct {
	BaseAdapter
}

// NewBedrockAdapter creates a Bedrock adapter that resolves credentials from
// the default AWS chain on first use.
func NewBedrockAdapter(name string, cfg Config) *BedrockAdapter {
	return newBedrock(name, cfg, nil)
}

// NewBedrockAdapterWithCredentials uses creds instead of the default chain.
func NewBedrockAdapterWithCredentials(name string, cfg Config, creds aws.CredentialsProvider) *BedrockAdapter {
	return newBedrock(name, cfg, creds)
}

func newBedrock(name string, cfg Config, creds aws.CredentialsProvider) *BedrockAdapter {
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	c := &bedrockCodec{
		baseURL: cfg.baseURL(fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)),
		region:  region,
		creds:   creds,
	}

	var base http.RoundTripper
	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient.Transport
	}
	cfg.HTTPClient = &http.Client{
		Transport: newSigV4Transport(aws.CredentialsProviderFunc(c.retrieve), region, base),
	}

	return &BedrockAdapter{BaseAdapter: newBaseAdapter(name, ProviderBedrock, cfg, c)}
}

type bedrockCodec struct {
	baseURL string
	region  string

	once    sync.Once
	creds   aws.CredentialsProvider
	authErr error
}

// checkAuth resolves the credential chain once. Failure is an AuthError.
func (c *bedrockCodec) checkAuth() error {
	c.once.Do(func() {
		if c.creds != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := c.creds.Retrieve(ctx); err != nil {
				c.authErr = err
			}
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.creds, c.authErr = loadAWSCredentials(ctx, c.region)
	})
	if c.authErr != nil {
		return &AuthError{Provider: ProviderBedrock, Message: c.authErr.Error()}
	}
	return nil
}

func (c *bedrockCodec) retrieve(ctx context.Context) (aws.Credentials, error) {
	if err := c.checkAuth(); err != nil {
		return aws.Credentials{}, err
	}
	return c.creds.Retrieve(ctx)
}

func (c *bedrockCodec) endpoint(req *Request, _ bool) string {
	return fmt.Sprintf("%s/model/%s/invoke", c.baseURL, url.PathEscape(req.Model))
}

func (c *bedrockCodec) authorize(h http.Header) { h.Set("Accept", "application/json") }

func (c *bedrockCodec) streams(_ *Request) bool { return false }

func (c *bedrockCodec) buildBody(req *Request, maxTokens int, _ bool) ([]byte, error) {
	if req.kind() == KindModeration {
		return nil, fmt.Errorf("moderation is not supported by bedrock")
	}
	body := buildAnthropicBody(req, maxTokens)
	body.AnthropicVersion = "bedrock-2023-05-31"
	return json.Marshal(body)
}

func (c *bedrockCodec) decode(_ *Request, body []byte) (*NormalizedResponse, error) {
	return decodeAnthropic(body)
}

func (c *bedrockCodec) newStream(_ *Request) streamDecoder {
	return &anthropicStream{provider: ProviderBedrock, state: newStreamState()}
}

var (
	_ Adapter = (*BedrockAdapter)(nil)
	_ codec   = (*bedrockCodec)(nil)
)
